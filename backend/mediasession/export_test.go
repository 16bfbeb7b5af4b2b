package mediasession

// DrainNotifications handles all queued provider notifications on the
// calling goroutine, standing in for Run.
func (t *Tracker) DrainNotifications() {
	for {
		select {
		case n := <-t.notify:
			t.handle(n)
		default:
			return
		}
	}
}
