package ot

// Metadata carried by a WrappedOperation may implement any of these. Missing
// methods fall back to a structural default.
type (
	MetaComposer interface {
		Compose(other any) any
	}
	MetaInverter interface {
		Invert() any
	}
	MetaTransformer interface {
		Transform(op TextOperation) any
	}
)

// WrappedOperation pairs an operation with metadata, such as the cursor before
// and after the edit, that follows the operation through the algebra.
type WrappedOperation struct {
	Operation TextOperation
	Meta      any
}

func Wrap(op TextOperation, meta any) WrappedOperation {
	return WrappedOperation{Operation: op, Meta: meta}
}

// TransformWrapped transforms the wrapped operations and then each side's
// metadata against the other side's operation.
func TransformWrapped(a, b WrappedOperation) (WrappedOperation, WrappedOperation, error) {
	aPrime, bPrime, err := Transform(a.Operation, b.Operation)
	if err != nil {
		return WrappedOperation{}, WrappedOperation{}, err
	}
	return Wrap(aPrime, transformMeta(a.Meta, b.Operation)),
		Wrap(bPrime, transformMeta(b.Meta, a.Operation)), nil
}

// Compose composes the operations and merges the metadata.
func (w WrappedOperation) Compose(other WrappedOperation) (WrappedOperation, error) {
	op, err := Compose(w.Operation, other.Operation)
	if err != nil {
		return WrappedOperation{}, err
	}
	return Wrap(op, composeMeta(w.Meta, other.Meta)), nil
}

// Invert inverts the operation against s and the metadata if it can be.
func (w WrappedOperation) Invert(s string) (WrappedOperation, error) {
	op, err := w.Operation.Invert(s)
	if err != nil {
		return WrappedOperation{}, err
	}
	meta := w.Meta
	if inv, ok := meta.(MetaInverter); ok {
		meta = inv.Invert()
	}
	return Wrap(op, meta), nil
}

func (w WrappedOperation) Apply(s string) (string, error) {
	return w.Operation.Apply(s)
}

func (w WrappedOperation) IsNoop() bool {
	return w.Operation.IsNoop()
}

func transformMeta(meta any, op TextOperation) any {
	if t, ok := meta.(MetaTransformer); ok {
		return t.Transform(op)
	}
	return meta
}

// composeMeta prefers a's Compose; map metadata is merged key by key with b
// winning; anything else is replaced by b unless b is nil.
func composeMeta(a, b any) any {
	if c, ok := a.(MetaComposer); ok {
		return c.Compose(b)
	}
	if m, ok := a.(map[string]any); ok {
		merged := make(map[string]any, len(m))
		for k, v := range m {
			merged[k] = v
		}
		if other, ok := b.(map[string]any); ok {
			for k, v := range other {
				merged[k] = v
			}
		}
		return merged
	}
	if b == nil {
		return a
	}
	return b
}
