package thing

// Result is a value read from a device or received from the broker.
type Result struct {
	Data []byte
	Err  error
}

// Transform inspects a value before it is forwarded. Returning nil
// suppresses the value.
type Transform func(Result) []byte

// Identity forwards data unchanged and suppresses errors.
func Identity(r Result) []byte {
	if r.Err != nil {
		return nil
	}
	return r.Data
}
