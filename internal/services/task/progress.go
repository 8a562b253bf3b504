package task

// ProgressFunc receives progress from inside a tier: how many work units are
// done out of total, plus a short human readable message.
type ProgressFunc func(current, total int, message string)

// Report calls fn when it is set.
func (fn ProgressFunc) Report(current, total int, message string) {
	if fn != nil {
		fn(current, total, message)
	}
}
