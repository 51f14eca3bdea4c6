package main

import (
	"flag"
	"fmt"
	"math"
	"path/filepath"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxelcore"
	"github.com/gekko3d/voxelcore/asset"
	"github.com/gekko3d/voxelcore/gpu"
	"github.com/gekko3d/voxelcore/voxel"
	"github.com/gekko3d/voxelcore/world"
)

func init() {
	runtime.LockOSThread()
}

const voxelHeapSize = 256 << 20

type camera struct {
	Pos         mgl32.Vec3
	Yaw, Pitch  float32
	Speed       float32
	Sensitivity float32
}

func (c *camera) forward() mgl32.Vec3 {
	cy := float32(math.Cos(float64(c.Yaw)))
	sy := float32(math.Sin(float64(c.Yaw)))
	cp := float32(math.Cos(float64(c.Pitch)))
	sp := float32(math.Sin(float64(c.Pitch)))
	return mgl32.Vec3{cy * cp, sp, sy * cp}
}

func (c *camera) move(window *glfw.Window, dt float32) {
	fwd := c.forward()
	right := fwd.Cross(mgl32.Vec3{0, 1, 0}).Normalize()
	step := c.Speed * dt
	if window.GetKey(glfw.KeyW) == glfw.Press {
		c.Pos = c.Pos.Add(fwd.Mul(step))
	}
	if window.GetKey(glfw.KeyS) == glfw.Press {
		c.Pos = c.Pos.Sub(fwd.Mul(step))
	}
	if window.GetKey(glfw.KeyD) == glfw.Press {
		c.Pos = c.Pos.Add(right.Mul(step))
	}
	if window.GetKey(glfw.KeyA) == glfw.Press {
		c.Pos = c.Pos.Sub(right.Mul(step))
	}
	if window.GetKey(glfw.KeySpace) == glfw.Press {
		c.Pos = c.Pos.Add(mgl32.Vec3{0, step, 0})
	}
	if window.GetKey(glfw.KeyLeftShift) == glfw.Press {
		c.Pos = c.Pos.Sub(mgl32.Vec3{0, step, 0})
	}
}

// groundGenerator fills everything below y=0 with a solid material so
// the window has terrain to stream even without a project file.
type groundGenerator struct{}

func (groundGenerator) GenerateChunk(chunkPos [3]int, attachments *voxel.AttachmentMap) *voxel.Flat {
	if chunkPos[1] >= 0 {
		return nil
	}
	dims := [3]int{world.ChunkVoxelLength, world.ChunkVoxelLength, world.ChunkVoxelLength}
	f, err := voxel.NewFlat(dims, attachments)
	if err != nil {
		return nil
	}
	dirt := voxel.EncodePTMaterialDiffuse(0.45, 0.32, 0.2)
	grass := voxel.EncodePTMaterialDiffuse(0.2, 0.6, 0.25)
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			c := dirt
			if chunkPos[1] == -1 && y == dims[1]-1 {
				c = grass
			}
			for x := 0; x < dims[0]; x++ {
				if err := f.SetAttachment([3]int{x, y, z}, voxel.AttachmentIdPTMaterial, []uint32{c}); err != nil {
					return nil
				}
			}
		}
	}
	return f
}

func main() {
	projectPath := flag.String("project", "", "project.json to load models from")
	voxPath := flag.String("vox", "", "single .vox model to load")
	distance := flag.Int("distance", 0, "chunk render distance override")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := voxelcore.NewDefaultLogger("voxelview", *debug)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "voxelview", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	instance := wgpu.CreateInstance(nil)
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	wgpuDevice, err := adapter.RequestDevice(nil)
	if err != nil {
		panic(err)
	}
	queue := wgpuDevice.GetQueue()

	width, height := window.GetFramebufferSize()
	caps := surface.GetCapabilities(adapter)
	config := &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	surface.Configure(adapter, wgpuDevice, config)

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if width == 0 || height == 0 {
			return
		}
		config.Width = uint32(width)
		config.Height = uint32(height)
		surface.Configure(adapter, wgpuDevice, config)
	})

	attachments := voxel.NewAttachmentMap()
	for _, a := range []voxel.Attachment{voxel.AttachmentPTMaterial, voxel.AttachmentNormal, voxel.AttachmentEmissive} {
		if err := attachments.Register(a); err != nil {
			panic(err)
		}
	}

	settings := asset.DefaultSettings()
	if *projectPath != "" {
		project, err := asset.LoadProject(*projectPath)
		if err != nil {
			panic(err)
		}
		settings = project.Settings
	}
	if *distance > 0 {
		settings.ChunkRenderDistance = *distance
		settings = settings.Clamped()
	}

	w := world.NewVoxelWorld(log, attachments, settings.ChunkRenderDistance)
	w.SetGenerator(groundGenerator{})
	worldGpu := world.NewVoxelWorldGpu(log, gpu.NewWgpuDevice(wgpuDevice), voxelHeapSize)

	if err := loadModels(log, w, *projectPath, *voxPath); err != nil {
		panic(err)
	}

	cam := &camera{
		Pos:         mgl32.Vec3{0, 24, 0},
		Speed:       48,
		Sensitivity: 0.002,
	}
	captured := false
	lastX, lastY := 0.0, 0.0
	window.SetCursorPosCallback(func(win *glfw.Window, x, y float64) {
		if captured {
			cam.Yaw += float32(x-lastX) * cam.Sensitivity
			cam.Pitch -= float32(y-lastY) * cam.Sensitivity
			if cam.Pitch > 1.55 {
				cam.Pitch = 1.55
			}
			if cam.Pitch < -1.55 {
				cam.Pitch = -1.55
			}
		}
		lastX, lastY = x, y
	})
	window.SetKeyCallback(func(win *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyTab && action == glfw.Press {
			captured = !captured
			if captured {
				win.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
			} else {
				win.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		}
		if key == glfw.KeyEscape && action == glfw.Press {
			win.SetShouldClose(true)
		}
	})
	window.SetMouseButtonCallback(func(win *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft || action != glfw.Press || !captured {
			return
		}
		digAt(w, cam)
	})

	playerChunk := world.WorldVoxelToChunk(voxelPos(cam.Pos))
	w.OnPlayerChunkChanged(playerChunk)

	lastTime := glfw.GetTime()
	for !window.ShouldClose() {
		glfw.PollEvents()

		now := glfw.GetTime()
		dt := float32(now - lastTime)
		lastTime = now
		cam.move(window, dt)

		if chunk := world.WorldVoxelToChunk(voxelPos(cam.Pos)); chunk != playerChunk {
			playerChunk = chunk
			w.OnPlayerChunkChanged(playerChunk)
		}

		worldGpu.ProcessFrame(w)
		present(wgpuDevice, queue, surface)
	}
}

func voxelPos(p mgl32.Vec3) [3]int {
	return [3]int{
		int(math.Floor(float64(p.X()))),
		int(math.Floor(float64(p.Y()))),
		int(math.Floor(float64(p.Z()))),
	}
}

// digAt clears a small cube around the first terrain voxel the camera
// looks at.
func digAt(w *world.VoxelWorld, cam *camera) {
	hit, _, ok := w.TraceTerrain(voxel.Ray{Origin: cam.Pos, Dir: cam.forward()}, 512)
	if !ok {
		return
	}
	const r = 2
	w.EnqueueEdit(world.VoxelEdit{
		WorldVoxelMin:    [3]int{hit[0] - r, hit[1] - r, hit[2] - r},
		WorldVoxelLength: [3]int{2*r + 1, 2*r + 1, 2*r + 1},
		Write: func(m voxel.MutableModel, modelPos, worldPos [3]int) {
			// In-bounds by construction of the edit box.
			_ = m.SetPresence(modelPos, false)
		},
	})
}

func loadModels(log voxelcore.Logger, w *world.VoxelWorld, projectPath, voxPath string) error {
	if voxPath != "" {
		flat, err := asset.LoadVox(voxPath)
		if err != nil {
			return err
		}
		name := filepath.Base(voxPath)
		id, err := w.RegisterRenderableVoxelModel(name, flat)
		if err != nil {
			return err
		}
		if err := w.SetVoxelModelAssetPath(id, voxPath); err != nil {
			return err
		}
		w.SpawnVoxelEntity(id, mgl32.Vec3{0, 8, 0})
		log.Infof("loaded %s as model %d, %v voxels", name, id, flat.AABBVoxel())
	}
	if projectPath == "" {
		return nil
	}
	project, err := asset.LoadProject(projectPath)
	if err != nil {
		return err
	}
	for _, ref := range project.Models {
		path := asset.ResolveModelPath(projectPath, ref.Path)
		var m voxel.Model
		if filepath.Ext(path) == ".vox" {
			m, err = asset.LoadVox(path)
		} else {
			var any voxel.AnyModel
			any, err = asset.LoadModel(path)
			if err == nil {
				m = any.Model()
			}
		}
		if err != nil {
			return fmt.Errorf("loading model %q: %w", ref.Name, err)
		}
		id, err := w.RegisterRenderableVoxelModel(ref.Name, m)
		if err != nil {
			return err
		}
		if err := w.SetVoxelModelAssetPath(id, path); err != nil {
			return err
		}
		w.SpawnVoxelEntity(id, mgl32.Vec3{ref.Translation[0], ref.Translation[1], ref.Translation[2]})
		log.Infof("loaded %s as model %d", ref.Name, id)
	}
	return nil
}

// present clears the swapchain image. Model and terrain buffers are
// uploaded by the frame pipeline; shading lives in the engine on top.
func present(device *wgpu.Device, queue *wgpu.Queue, surface *wgpu.Surface) {
	nextTexture, err := surface.GetCurrentTexture()
	if err != nil {
		return
	}
	defer nextTexture.Release()
	view, err := nextTexture.CreateView(nil)
	if err != nil {
		return
	}
	defer view.Release()

	encoder, err := device.CreateCommandEncoder(nil)
	if err != nil {
		return
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0.35, G: 0.58, B: 0.92, A: 1},
		}},
	})
	if err := pass.End(); err != nil {
		return
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return
	}
	queue.Submit(cmd)
	surface.Present()
}
