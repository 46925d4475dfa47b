package model

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrInvalidAmountFormat возвращается при разборе строки, не являющейся неотрицательным целым числом.
var ErrInvalidAmountFormat = errors.New("invalid amount format")

// Amount — неотрицательное количество средств в минимальных неделимых единицах.
// Арифметика проверяемая: переполнение и уход в минус сообщаются флагом, а не заворачиваются.
type Amount struct {
	v uint256.Int
}

// Zero возвращает нулевую сумму.
func Zero() Amount {
	return Amount{}
}

// NewAmount создаёт сумму из uint64.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount разбирает десятичную строку без знака.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, ErrInvalidAmountFormat
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmountFormat, err)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount как ParseAmount, но паникует при ошибке. Только для констант и тестов.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromBig переводит big.Int в Amount. ok == false для отрицательных и не помещающихся в 256 бит значений.
func AmountFromBig(b *big.Int) (Amount, bool) {
	if b == nil || b.Sign() < 0 {
		return Amount{}, false
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, false
	}
	return Amount{v: *v}, true
}

// Big возвращает копию значения в виде big.Int.
func (a Amount) Big() *big.Int {
	return a.v.ToBig()
}

// IsZero сообщает, равна ли сумма нулю.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp сравнивает суммы: -1, 0 или +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Add складывает суммы. ok == false при переполнении.
func (a Amount) Add(b Amount) (Amount, bool) {
	var res Amount
	_, overflow := res.v.AddOverflow(&a.v, &b.v)
	return res, !overflow
}

// Sub вычитает b из a. ok == false, если b > a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var res Amount
	_, underflow := res.v.SubOverflow(&a.v, &b.v)
	if underflow {
		return Amount{}, false
	}
	return res, true
}

// SaturatingSub вычитает b из a, не опускаясь ниже нуля.
func (a Amount) SaturatingSub(b Amount) Amount {
	res, ok := a.Sub(b)
	if !ok {
		return Amount{}
	}
	return res
}

// MulUint64 умножает сумму на n. ok == false при переполнении.
func (a Amount) MulUint64(n uint64) (Amount, bool) {
	var res Amount
	_, overflow := res.v.MulOverflow(&a.v, uint256.NewInt(n))
	return res, !overflow
}

// String возвращает десятичное представление.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalText кодирует сумму десятичной строкой.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText разбирает десятичную строку.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON кодирует сумму десятичной строкой в кавычках.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.Dec() + `"`), nil
}

// UnmarshalJSON принимает как строку, так и целое JSON-число. null оставляет значение без изменений.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	return a.UnmarshalText(data)
}
