package qrpay

// CreditPackage pairs a coin bundle with its price in Vietnamese dong.
// VND has no subdivision, so AmountVND is already in minor units.
type CreditPackage struct {
	Coins     int64
	AmountVND int64
}

var creditPackages = []CreditPackage{
	{Coins: 20, AmountVND: 52000},
	{Coins: 60, AmountVND: 130000},
	{Coins: 130, AmountVND: 260000},
	{Coins: 270, AmountVND: 520000},
	{Coins: 700, AmountVND: 1300000},
	{Coins: 1500, AmountVND: 2600000},
}

// Packages returns the offered credit packages.
func Packages() []CreditPackage {
	packages := make([]CreditPackage, len(creditPackages))
	copy(packages, creditPackages)
	return packages
}

// ValidPackage reports whether the coins/amount pair is one of the offered
// packages. Callers validate before ordering; OrderClient itself only
// rejects non-positive values.
func ValidPackage(coins int64, amountVND int64) bool {
	for _, creditPackage := range creditPackages {
		if creditPackage.Coins == coins && creditPackage.AmountVND == amountVND {
			return true
		}
	}
	return false
}
