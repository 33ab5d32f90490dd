package cluster

import "sync"

// mailbox runs posted tasks one at a time, in posting order, on a single
// goroutine. It is unbounded so that posting never blocks the sender.
type mailbox struct {
	mtx    sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{done: make(chan struct{})}
	m.cond = sync.NewCond(&m.mtx)
	go m.run()
	return m
}

func (m *mailbox) post(task func()) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, task)
	m.cond.Signal()
	return true
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mtx.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.mtx.Unlock()
			return
		}
		task := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mtx.Unlock()
		task()
	}
}

// close stops accepting tasks, drains what is queued and waits for the
// worker to exit.
func (m *mailbox) close() {
	m.mtx.Lock()
	m.closed = true
	m.cond.Signal()
	m.mtx.Unlock()
	<-m.done
}
