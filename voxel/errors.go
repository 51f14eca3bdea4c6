package voxel

import "errors"

var (
	// ErrOutOfBounds is returned on writes outside a model's dimensions.
	// Reads report missing voxels through their boolean result instead.
	ErrOutOfBounds = errors.New("voxel position out of bounds")

	// ErrAttachmentUnregistered is returned when a mutation names an
	// attachment the model's map does not carry.
	ErrAttachmentUnregistered = errors.New("attachment not registered")

	// ErrConflictingAttachment is returned when two attachment maps
	// disagree on the name bound to an attachment id.
	ErrConflictingAttachment = errors.New("conflicting attachment registration")

	// ErrSchemaMismatch is returned by typed registry accessors when the
	// stored model has a different schema.
	ErrSchemaMismatch = errors.New("voxel model schema mismatch")
)
