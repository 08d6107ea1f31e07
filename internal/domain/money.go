package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money хранит сумму в минимальных единицах (центах). Два знака после запятой.
type Money int64

const moneyScale = 2

// ParseMoney разбирает десятичную строку вида "899.99".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}
	if d.Exponent() < -moneyScale && !d.Equal(d.Round(moneyScale)) {
		return 0, fmt.Errorf("parse money %q: more than %d fractional digits", s, moneyScale)
	}
	return Money(d.Shift(moneyScale).IntPart()), nil
}

// MustMoney используется в тестах и сидировании каталога.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal возвращает сумму в виде decimal для форматирования и отчётов.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -moneyScale)
}

// String форматирует сумму с двумя знаками после запятой.
func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

// Mul умножает цену на количество.
func (m Money) Mul(qty int64) Money {
	return m * Money(qty)
}

// Minor возвращает сумму в центах.
func (m Money) Minor() int64 {
	return int64(m)
}
