package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var multibuyRegex = regexp.MustCompile(`(\d+) for £(\d+(\.\d+)?)`)

// MultibuyUnitPrice parses a "N for £X" promotion into a per-unit price
// formatted to two decimal places. It returns nil when the text does not
// carry the pattern, when the item count is zero, or when the division
// does not yield a finite price; it never fails otherwise.
func MultibuyUnitPrice(promoText string) *string {
	match := multibuyRegex.FindStringSubmatch(promoText)
	if match == nil {
		return nil
	}

	count, err := strconv.Atoi(match[1])
	if err != nil || count == 0 {
		log.Warn().Str("promo", promoText).Msg("promotion text is not readable")
		return nil
	}
	total, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		log.Warn().Str("promo", promoText).Msg("promotion text is not readable")
		return nil
	}

	unit := total / float64(count)
	if math.IsNaN(unit) || math.IsInf(unit, 0) {
		log.Warn().Str("promo", promoText).Msg("promotion text is not readable")
		return nil
	}
	return lo.ToPtr(fmt.Sprintf("%.2f", unit))
}
