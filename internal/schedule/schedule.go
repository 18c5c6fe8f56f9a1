// Package schedule — отложенные одноразовые задачи с отменой и каналом
// ошибок. Используется для удаления канала после закрытия тикета: закрытие
// не ждёт задачу, но её постановка и результат наблюдаемы.
package schedule

import (
	"errors"
	"sync"
	"time"
)

// ErrCancelled приходит в Err(), если задача отменена до срабатывания.
var ErrCancelled = errors.New("scheduled job cancelled")

// Job — отложенная задача. Err() получает ровно одно значение: результат
// fn или ErrCancelled. Done() закрывается после того, как результат отправлен.
type Job struct {
	errc   chan error
	stop   chan struct{}
	done   chan struct{}
	cancel sync.Once
}

// After запускает fn через d. Задача выполняется в отдельной горутине и не
// блокирует вызывающего.
func After(d time.Duration, fn func() error) *Job {
	j := &Job{
		errc: make(chan error, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		defer close(j.done)
		select {
		case <-timer.C:
			j.errc <- fn()
		case <-j.stop:
			j.errc <- ErrCancelled
		}
	}()
	return j
}

// Cancel отменяет задачу, если она ещё не сработала. Повторные вызовы
// безопасны.
func (j *Job) Cancel() {
	j.cancel.Do(func() { close(j.stop) })
}

// Err — канал результата задачи (ёмкость 1, получает ровно одно значение).
func (j *Job) Err() <-chan error {
	return j.errc
}

// Done закрывается после того, как задача выполнилась или была отменена.
func (j *Job) Done() <-chan struct{} {
	return j.done
}
