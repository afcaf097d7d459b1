package service

import (
	"strings"

	"wallet-reconciler/internal/core/ports"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicServiceImpl implements ports.MnemonicService over a shared lexicon.
type MnemonicServiceImpl struct {
	lexicon *Lexicon
}

// NewMnemonicService creates a corrector bound to lexicon.
func NewMnemonicService(lexicon *Lexicon) *MnemonicServiceImpl {
	return &MnemonicServiceImpl{lexicon: lexicon}
}

// Correct replaces every token that is not a lexicon word with its nearest entry.
// Token order and count are preserved; the result is single-space separated.
// No checksum or word-count validation happens here.
func (s *MnemonicServiceImpl) Correct(phrase string) string {
	return s.Inspect(phrase).Corrected
}

// Inspect corrects phrase and reports each replacement plus BIP-39 checksum validity of
// the result.
func (s *MnemonicServiceImpl) Inspect(phrase string) ports.CorrectionReport {
	tokens := strings.Fields(phrase)
	report := ports.CorrectionReport{Original: phrase}

	corrected := make([]string, len(tokens))
	for i, tok := range tokens {
		if s.lexicon.IsValid(tok) {
			corrected[i] = tok
			continue
		}
		replacement, dist := s.lexicon.Nearest(tok)
		corrected[i] = replacement
		report.Words = append(report.Words, ports.WordCorrection{
			Position:    i,
			Original:    tok,
			Replacement: replacement,
			Distance:    dist,
		})
	}

	report.Corrected = strings.Join(corrected, " ")
	report.ChecksumValid = len(corrected) > 0 && bip39.IsMnemonicValid(report.Corrected)
	return report
}
