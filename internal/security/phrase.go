package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// The phrase is a low entropy fingerprint a user cross checks between the
// sign-in page and the mail they received. It carries no secret.
var (
	phraseAdjectives = []string{
		"amber", "bold", "brisk", "calm", "clever", "crimson", "daring",
		"eager", "gentle", "golden", "hidden", "ivory", "jolly", "keen",
		"lively", "mellow", "noble", "polar", "quiet", "rapid", "silver",
		"steady", "sunny", "swift", "velvet", "vivid", "wandering", "witty",
	}
	phraseNouns = []string{
		"anchor", "badger", "beacon", "canyon", "comet", "falcon", "fjord",
		"glacier", "harbor", "heron", "lantern", "meadow", "meteor", "orchid",
		"otter", "pebble", "pine", "raven", "reef", "river", "saddle",
		"sparrow", "summit", "thistle", "tundra", "walnut", "willow", "wren",
	}
)

func NewPhrase() (string, error) {
	adj, err := pick(phraseAdjectives)
	if err != nil {
		return "", err
	}
	noun, err := pick(phraseNouns)
	if err != nil {
		return "", err
	}
	return adj + " " + noun, nil
}

func pick(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("generate phrase: %w", err)
	}
	return words[n.Int64()], nil
}
