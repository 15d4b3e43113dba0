package inventory

// Clamp returns how much of requested can be taken from current and what
// remains. Neither result is ever negative.
func Clamp(current, requested int) (deduct, remaining int) {
	if current < 0 {
		current = 0
	}
	if requested < 0 {
		requested = 0
	}
	deduct = min(requested, current)
	return deduct, current - deduct
}
