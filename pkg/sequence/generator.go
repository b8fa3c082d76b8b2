package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewCodeGenerator),
)

const (
	RedemptionPrefix = "MET"
	codeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	groupSize        = 4
	groupCount       = 3
)

var redemptionCodePattern = regexp.MustCompile(`^MET-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Generator produces redemption codes. Codes act as bearer tokens so the
// default implementation draws from crypto/rand.
type Generator interface {
	NextRedemptionCode(ctx context.Context) (string, error)
}

type CodeGenerator struct {
	rand io.Reader
}

func NewCodeGenerator() Generator {
	return &CodeGenerator{rand: rand.Reader}
}

// NewCodeGeneratorFrom draws from r instead of crypto/rand. Tests use it for
// deterministic codes.
func NewCodeGeneratorFrom(r io.Reader) *CodeGenerator {
	return &CodeGenerator{rand: r}
}

// NextRedemptionCode returns a code shaped MET-XXXX-XXXX-XXXX.
func (g *CodeGenerator) NextRedemptionCode(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	groups := make([]string, 0, groupCount+1)
	groups = append(groups, RedemptionPrefix)
	for i := 0; i < groupCount; i++ {
		part, err := randomAlphaNumeric(g.rand, groupSize)
		if err != nil {
			return "", fmt.Errorf("generate redemption code: %w", err)
		}
		groups = append(groups, part)
	}

	return strings.Join(groups, "-"), nil
}

// IsRedemptionCode reports whether code has the redemption code shape.
func IsRedemptionCode(code string) bool {
	return redemptionCodePattern.MatchString(code)
}

func randomAlphaNumeric(r io.Reader, n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		num, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[num.Int64()]
	}
	return string(b), nil
}
