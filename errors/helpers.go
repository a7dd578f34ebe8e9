package errors

// Wrap annotates err with consistent Op and Component propagation. It avoids
// repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil.
func Wrap(err error, op Op, component Component) error {
	if err == nil {
		return nil
	}
	return E(op, component, err)
}

// WrapKind annotates err with Op, Component, and Kind. If err is nil, returns nil.
func WrapKind(err error, op Op, component Component, kind Kind) error {
	if err == nil {
		return nil
	}
	return E(op, component, kind, err)
}
