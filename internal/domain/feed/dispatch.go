package feed

// notice is a callback waiting to be handed to the main thread runner.
type notice struct {
	name string
	fn   func()
}

// post queues a callback and flushes the outbox. Callbacks are handed to the
// main thread runner in the order they were posted, and never while a commit
// holds the tree. An inline runner may therefore call back into the provider.
func (p *Provider) post(name string, fn func()) {
	p.mu.Lock()
	p.outbox = append(p.outbox, notice{name: name, fn: fn})
	p.mu.Unlock()
	p.flush()
}

// hold defers flushing until the matching release.
func (p *Provider) hold() {
	p.mu.Lock()
	p.holds++
	p.mu.Unlock()
}

func (p *Provider) release() {
	p.mu.Lock()
	p.holds--
	p.mu.Unlock()
	p.flush()
}

// flush drains the outbox. A flush that finds another one running, or a
// commit in progress, leaves the work to it.
func (p *Provider) flush() {
	p.mu.Lock()
	if p.flushing || p.holds > 0 {
		p.mu.Unlock()
		return
	}
	p.flushing = true
	drained := false
	defer func() {
		if !drained {
			p.mu.Lock()
			p.flushing = false
			p.mu.Unlock()
		}
	}()

	for {
		if len(p.outbox) == 0 || p.holds > 0 {
			p.flushing = false
			drained = true
			p.mu.Unlock()
			return
		}
		n := p.outbox[0]
		p.outbox[0] = notice{}
		p.outbox = p.outbox[1:]
		p.mu.Unlock()

		p.mainThread.Execute(n.name, n.fn)

		p.mu.Lock()
	}
}

// markStarted reports whether o is still owed OnSessionStart and records
// that it got it.
func (p *Provider) markStarted(o Observer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started[o] || p.finished[o] {
		return false
	}
	p.started[o] = true
	return true
}

// markFinished reports whether o is still owed OnSessionFinished and records
// that it got it.
func (p *Provider) markFinished(o Observer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished[o] {
		return false
	}
	p.finished[o] = true
	return true
}
