package errs

import "errors"

// Доменные ошибки тикет-сервиса. Обработчики сопоставляют их через errors.Is
// и отдают пользователю короткое нетехническое сообщение.
var (
	// ErrCategoryNotFound — категория тикета не найдена по идентификатору.
	ErrCategoryNotFound = errors.New("ticket category not found")

	// ErrCategoryInUse — категорию нельзя удалить, пока на неё ссылаются тикеты.
	ErrCategoryInUse = errors.New("ticket category is referenced by tickets")

	// ErrTicketNotFound — тикет не найден по идентификатору.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrChannelNotTicket — в канале нет открытого тикета (или он уже закрывается).
	ErrChannelNotTicket = errors.New("channel has no open ticket")

	// ErrIntakeCancelled — пользователь отменил форму ввода.
	ErrIntakeCancelled = errors.New("intake form cancelled")

	// ErrIntakeTimeout — форма ввода не была отправлена за отведённое время.
	ErrIntakeTimeout = errors.New("intake form timed out")

	// ErrVerificationFailed — токен верификации отсутствует, некорректен или отклонён.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrProvisioningFailed — целевая категория каналов не разрешилась, канал не создан.
	ErrProvisioningFailed = errors.New("channel provisioning failed")

	// ErrPersistenceFailed — ошибка записи в хранилище.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrTranscriptFailed — не удалось сгенерировать транскрипт (не блокирует закрытие).
	ErrTranscriptFailed = errors.New("transcript generation failed")
)

// IsCancelled сообщает, что ожидание формы завершилось отменой или таймаутом.
// Оба случая для вызывающего кода эквивалентны: side effects отсутствуют.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrIntakeCancelled) || errors.Is(err, ErrIntakeTimeout)
}
