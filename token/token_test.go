package token_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/marktsuchida/partaked/token"
)

func TestToken(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "token")
}

var _ = Describe("Sequence", func() {
	It("never emits the invalid token", func() {
		seq := token.NewSequence()
		for i := 0; i < 1000; i++ {
			Expect(seq.Next()).NotTo(Equal(token.Invalid))
		}
	})

	It("emits distinct successive tokens", func() {
		seq := token.NewSequence()
		a := seq.Next()
		b := seq.Next()
		Expect(a).NotTo(Equal(b))
	})

	It("is deterministic given the same construction", func() {
		a := token.NewSequence()
		b := token.NewSequence()
		for i := 0; i < 10; i++ {
			Expect(a.Next()).To(Equal(b.Next()))
		}
	})
})

// Vectors below are taken verbatim from the reference implementation's
// proquint test cases.
var _ = Describe("Proquint", func() {
	It("renders 0 as babab-babab-babab-babab", func() {
		Expect(token.Token(0).Proquint()).To(Equal("babab-babab-babab-babab"))
	})

	It("renders all-ones as zuzuz-zuzuz-zuzuz-zuzuz", func() {
		Expect(token.Token(0xFFFFFFFFFFFFFFFF).Proquint()).
			To(Equal("zuzuz-zuzuz-zuzuz-zuzuz"))
	})

	It("renders a mixed value per the reference vector", func() {
		Expect(token.Token(0x3F54DCC18C62C18D).Proquint()).
			To(Equal("gutih-tugad-mudof-sakat"))
	})

	It("round-trips through ParseProquint", func() {
		for _, tok := range []token.Token{0, 1, 0xFFFFFFFFFFFFFFFF, 0x3F54DCC18C62C18D} {
			pq := tok.Proquint()
			parsed, err := token.ParseProquint(pq)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(tok))
		}
	})

	It("rejects malformed input", func() {
		_, err := token.ParseProquint("not-a-valid-proquint-at-all")
		Expect(err).To(HaveOccurred())
	})
})
