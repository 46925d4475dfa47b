// Package validation содержит функции валидации входных данных.
package validation

const (
	minAccountLen = 2
	maxAccountLen = 64
)

// IsValidAccountID проверяет идентификатор аккаунта: 2–64 символа, строчные латинские буквы
// и цифры, разделённые одиночными '-', '_' или '.'. Разделитель не может стоять
// в начале или в конце.
func IsValidAccountID(id string) bool {
	if len(id) < minAccountLen || len(id) > maxAccountLen {
		return false
	}

	prevSeparator := true
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			prevSeparator = false
		case ch == '-' || ch == '_' || ch == '.':
			if prevSeparator {
				return false
			}
			prevSeparator = true
		default:
			return false
		}
	}

	return !prevSeparator
}
