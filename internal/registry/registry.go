// Package registry — процессный индекс открытых тикетов по id канала.
// Инвариант: на канал не более одной записи; содержимое — подмножество
// открытых тикетов в базе (восстанавливается recovery при старте и
// поддерживается воркфлоу в том же шаге, что и запись в базу).
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/psds-microservice/ticket-desk/internal/model"
)

// Entry — открытый тикет в реестре плюс его runtime-состояние.
// Переход open → closing делается через CAS, чтобы два одновременных
// закрытия не прошли оба.
type Entry struct {
	Ticket  *model.Ticket
	closing atomic.Bool
}

// BeginClose переводит запись в состояние closing. false — закрытие уже идёт.
func (e *Entry) BeginClose() bool {
	return e.closing.CompareAndSwap(false, true)
}

// AbortClose возвращает запись в open (закрытие сорвалось до записи в базу).
func (e *Entry) AbortClose() {
	e.closing.Store(false)
}

// Registry — потокобезопасная карта channelID → Entry.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[string]*Entry
}

func New() *Registry {
	return &Registry{byChannel: make(map[string]*Entry)}
}

// Register добавляет тикет. Ошибка, если канал уже занят другим тикетом.
func (r *Registry) Register(channelID string, t *model.Ticket) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byChannel[channelID]; ok {
		return nil, fmt.Errorf("channel %s already registered to ticket %d", channelID, prev.Ticket.ID)
	}
	e := &Entry{Ticket: t}
	r.byChannel[channelID] = e
	return e, nil
}

// Get возвращает запись открытого тикета или nil.
func (r *Registry) Get(channelID string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byChannel[channelID]
}

// Unregister убирает тикет из реестра. Отсутствие ключа — не ошибка.
func (r *Registry) Unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byChannel, channelID)
}

// Count — число открытых тикетов в реестре.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel)
}
