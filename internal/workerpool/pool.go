package workerpool

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Task is one unit of work submitted to the pool. Run may report progress
// zero or more times before returning; the pool delivers those messages,
// followed by exactly one completion, on the callbacks below. Both callbacks
// are invoked from the pool's dispatch goroutine, never concurrently.
type Task struct {
	Name      string
	Exclusive bool
	Run       func(progress func(message string)) error

	OnProgress func(message string)
	OnComplete func(err error)
}

type messageKind int

const (
	messageProgress messageKind = iota
	messageComplete
)

type workerMessage struct {
	worker  int
	task    *Task
	kind    messageKind
	payload string
	err     error
}

// Pool runs tasks on a fixed set of workers. A parallel task is dispatched
// when a worker is idle and no exclusive task is running; an exclusive task
// only when every worker is idle. Everything else queues FIFO, and the head
// of the queue blocks dispatch until it becomes eligible. A panicking task
// fails only itself: the worker recovers and keeps serving.
type Pool struct {
	size     int
	submitCh chan *Task
	closeCh  chan struct{}
	done     sync.WaitGroup
	once     sync.Once
}

// New starts a pool with the given number of workers.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}

	pool := &Pool{
		size:     size,
		submitCh: make(chan *Task),
		closeCh:  make(chan struct{}),
	}

	pool.done.Add(1)
	go pool.dispatch()

	return pool
}

// Submit queues the task. It returns false if the pool is already closed, in
// which case no callback will ever fire.
func (p *Pool) Submit(task *Task) bool {
	select {
	case p.submitCh <- task:
		return true
	case <-p.closeCh:
		return false
	}
}

// Close shuts the pool down. Queued tasks are dropped and in-flight tasks
// are abandoned: their completion callbacks do not fire.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.closeCh)
	})
	p.done.Wait()
}

func (p *Pool) dispatch() {
	defer p.done.Done()

	taskChs := make([]chan *Task, p.size)
	messages := make(chan workerMessage)
	var workers sync.WaitGroup

	for i := 0; i < p.size; i++ {
		taskChs[i] = make(chan *Task, 1)
		workers.Add(1)
		go p.work(i, taskChs[i], messages, &workers)
	}

	running := make([]*Task, p.size)
	idle := make([]int, 0, p.size)
	for i := p.size - 1; i >= 0; i-- {
		idle = append(idle, i)
	}

	var queue []*Task

	exclusiveRunning := func() bool {
		for _, task := range running {
			if task != nil && task.Exclusive {
				return true
			}
		}
		return false
	}

	eligible := func(task *Task) bool {
		if len(idle) == 0 {
			return false
		}
		if task.Exclusive {
			return len(idle) == p.size
		}
		return !exclusiveRunning()
	}

	start := func(task *Task) {
		worker := idle[len(idle)-1]
		idle = idle[:len(idle)-1]
		running[worker] = task
		taskChs[worker] <- task
	}

	drainQueue := func() {
		for len(queue) > 0 && eligible(queue[0]) {
			task := queue[0]
			queue = queue[1:]
			start(task)
		}
	}

	for {
		select {
		case task := <-p.submitCh:
			if len(queue) == 0 && eligible(task) {
				start(task)
			} else {
				queue = append(queue, task)
			}

		case message := <-messages:
			switch message.kind {
			case messageProgress:
				if message.task.OnProgress != nil {
					message.task.OnProgress(message.payload)
				}
			case messageComplete:
				running[message.worker] = nil
				idle = append(idle, message.worker)
				if message.task.OnComplete != nil {
					message.task.OnComplete(message.err)
				}
				drainQueue()
			}

		case <-p.closeCh:
			for _, ch := range taskChs {
				close(ch)
			}
			// Abandon in-flight work: stop delivering callbacks and let the
			// workers unwind on their own.
			go func() {
				for range messages {
				}
			}()
			workers.Wait()
			close(messages)
			return
		}
	}
}

func (p *Pool) work(id int, tasks <-chan *Task, messages chan<- workerMessage, workers *sync.WaitGroup) {
	defer workers.Done()

	for task := range tasks {
		err := p.runTask(task, func(message string) {
			select {
			case messages <- workerMessage{worker: id, task: task, kind: messageProgress, payload: message}:
			case <-p.closeCh:
			}
		})

		select {
		case messages <- workerMessage{worker: id, task: task, kind: messageComplete, err: err}:
		case <-p.closeCh:
			return
		}
	}
}

func (p *Pool) runTask(task *Task, progress func(string)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v\n%s", task.Name, r, debug.Stack())
		}
	}()

	return task.Run(progress)
}
