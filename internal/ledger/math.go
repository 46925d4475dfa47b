package ledger

import (
	"math/big"

	"github.com/mmeshcher/lendpool/internal/model"
)

const (
	dayMillis    = int64(24 * 60 * 60 * 1000)
	loanTermDays = 30
	loanTermMs   = loanTermDays * dayMillis
	daysPerYear  = 365

	// штраф 0.5% от исходного тела займа за каждый полный день просрочки
	penaltyPerDayNum = 5
	penaltyPerDayDen = 1000
)

var basisPoints = big.NewInt(10_000)

// divHalfUp делит num на den с округлением половины вверх. Оба аргумента неотрицательны, den > 0.
func divHalfUp(num, den *big.Int) *big.Int {
	half := new(big.Int).Rsh(den, 1)
	res := new(big.Int).Add(num, half)
	return res.Quo(res, den)
}

// overdueDays возвращает число полных суток просрочки. Ноль, если now <= due.
func overdueDays(now, due int64) uint64 {
	if now <= due {
		return 0
	}
	return uint64((now - due) / dayMillis)
}

// overduePenalty = principal * days * 5 / 1000, с отбрасыванием дробной части.
func overduePenalty(principal model.Amount, days uint64) (model.Amount, bool) {
	if days == 0 {
		return model.Zero(), true
	}
	p := principal.Big()
	p.Mul(p, new(big.Int).SetUint64(days))
	p.Mul(p, big.NewInt(penaltyPerDayNum))
	p.Quo(p, big.NewInt(penaltyPerDayDen))
	return model.AmountFromBig(p)
}

// accruedInterest = round(principal * bps/10000 * days / 365). Учитываются только полные сутки.
func accruedInterest(principal model.Amount, rateBps uint64, elapsedMs int64) (model.Amount, bool) {
	if elapsedMs <= 0 || rateBps == 0 || principal.IsZero() {
		return model.Zero(), true
	}
	days := elapsedMs / dayMillis
	if days == 0 {
		return model.Zero(), true
	}
	num := principal.Big()
	num.Mul(num, new(big.Int).SetUint64(rateBps))
	num.Mul(num, big.NewInt(days))

	den := new(big.Int).Mul(basisPoints, big.NewInt(daysPerYear))

	return model.AmountFromBig(divHalfUp(num, den))
}

// proportionalShare = round(pool * stake / total).
func proportionalShare(pool, stake, total model.Amount) (model.Amount, bool) {
	if total.IsZero() {
		return model.Zero(), true
	}
	num := pool.Big()
	num.Mul(num, stake.Big())
	return model.AmountFromBig(divHalfUp(num, total.Big()))
}
