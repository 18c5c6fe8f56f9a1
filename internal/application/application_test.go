package application

import (
	"testing"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/gateway"
)

// Лимит записи должен переживать худший случай формы: само ожидание
// (FormTimeout) плюс запас long-poll'а gateway.
func TestWriteTimeoutCoversFormWait(t *testing.T) {
	for _, ft := range []time.Duration{0, time.Second, 60 * time.Second, 5 * time.Minute} {
		wait := ft
		if wait <= 0 {
			wait = 60 * time.Second
		}
		wait += gateway.AwaitSlack
		if got := writeTimeout(ft); got <= wait {
			t.Errorf("writeTimeout(%v) = %v, must exceed the worst-case form wait %v", ft, got, wait)
		}
	}
}
