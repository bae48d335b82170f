package invoice

import (
	"fmt"
	"strings"
)

// Branch is a point of sale. Branch users only see invoices whose number
// carries one of the branch prefixes.
type Branch string

const (
	BranchSantaFe     Branch = "SANTA_FE"
	BranchRafaela     Branch = "RAFAELA"
	BranchReconquista Branch = "RECONQUISTA"
)

// BranchCases has one method per branch.
type BranchCases[T any] interface {
	SantaFe() T
	Rafaela() T
	Reconquista() T
}

func MatchBranch[T any](b Branch, c BranchCases[T]) T {
	switch b {
	case BranchSantaFe:
		return c.SantaFe()
	case BranchRafaela:
		return c.Rafaela()
	case BranchReconquista:
		return c.Reconquista()
	}
	panic(fmt.Sprintf("invoice: unknown branch %q", string(b)))
}

func AllBranches() []Branch {
	return []Branch{BranchSantaFe, BranchRafaela, BranchReconquista}
}

func ParseBranch(v string) (Branch, error) {
	b := Branch(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range AllBranches() {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: unknown branch %q", ErrInvalidArgument, v)
}

type prefixCases struct{}

func (prefixCases) SantaFe() []string     { return []string{"0104", "104"} }
func (prefixCases) Rafaela() []string     { return []string{"0109", "109"} }
func (prefixCases) Reconquista() []string { return []string{"0105", "105"} }

// Prefixes are the point-of-sale prefixes of the branch's invoice numbers.
func (b Branch) Prefixes() []string { return MatchBranch[[]string](b, prefixCases{}) }

type branchLabelCases struct{}

func (branchLabelCases) SantaFe() string     { return "Santa Fe" }
func (branchLabelCases) Rafaela() string     { return "Rafaela" }
func (branchLabelCases) Reconquista() string { return "Reconquista" }

func (b Branch) Label() string { return MatchBranch[string](b, branchLabelCases{}) }

// BelongsToBranch reports whether an invoice number, with every non-digit
// removed, starts with one of the branch prefixes.
func BelongsToBranch(invoiceNumber string, b Branch) bool {
	digits := digitsOnly(invoiceNumber)
	if digits == "" {
		return false
	}
	for _, p := range b.Prefixes() {
		if strings.HasPrefix(digits, p) {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
