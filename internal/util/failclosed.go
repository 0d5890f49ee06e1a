package util

// FailClosed runs fn and converts every failure into deny. An error from
// fn, or a panic inside it, yields (deny, err); the error is returned so
// the caller can log it, but the value is always the deny value.
func FailClosed[T any](deny T, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = deny
			err = &PanicError{Value: r}
		}
	}()

	result, err = fn()
	if err != nil {
		return deny, err
	}
	return result, nil
}
