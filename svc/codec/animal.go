// Package codec maps 64-bit paste identifiers to memorable animal-name
// sequences and back. The vocabulary order defines digit values and must
// never change, or previously issued identifiers stop decoding.
package codec

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"wordbin/pkg/domain"
)

const Separator = "-"

var vocabulary = []string{
	"ant", "eel", "mole", "sloth",
	"ape", "emu", "monkey", "snail",
	"bat", "falcon", "mouse", "snake",
	"bear", "fish", "otter", "spider",
	"bee", "fly", "parrot", "squid",
	"bird", "fox", "panda", "swan",
	"bison", "frog", "pig", "tiger",
	"camel", "gecko", "pigeon", "toad",
	"cat", "goat", "pony", "trout",
	"cobra", "goose", "puma", "turkey",
	"crow", "hawk", "rabbit", "turtle",
	"deer", "horse", "rat", "viper",
	"dog", "jaguar", "raven", "wasp",
	"dolphin", "koala", "seal", "whale",
	"duck", "lion", "shark", "wolf",
	"eagle", "lizard", "sheep", "worm",
}

var wordIndex = func() map[string]uint64 {
	m := make(map[string]uint64, len(vocabulary))
	for i, w := range vocabulary {
		m[w] = uint64(i)
	}
	return m
}()

// Encode renders id as a base-64 number with animal names as digits,
// most significant word first. Zero encodes to the vocabulary's first word.
func Encode(id uint64) string {
	base := uint64(len(vocabulary))
	if id == 0 {
		return vocabulary[0]
	}
	words := make([]string, 0, 11)
	for id > 0 {
		words = append(words, vocabulary[id%base])
		id /= base
	}
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return strings.Join(words, Separator)
}

// Decode is the exact inverse of Encode. Any word outside the vocabulary,
// an empty sequence, or a sequence exceeding the 64-bit range fails with
// the invalid-identifier error.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, domain.ErrInvalidIdentifier
	}
	base := uint64(len(vocabulary))
	var id uint64
	for _, w := range strings.Split(s, Separator) {
		idx, ok := wordIndex[w]
		if !ok {
			return 0, errors.Wrapf(domain.ErrInvalidIdentifier, "unknown word %q", w)
		}
		if id > (math.MaxUint64-idx)/base {
			return 0, errors.Wrap(domain.ErrInvalidIdentifier, "identifier out of range")
		}
		id = id*base + idx
	}
	return id, nil
}
