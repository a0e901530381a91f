package client

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Accumulator", func() {
	var acc *Accumulator

	BeforeEach(func() {
		acc = &Accumulator{}
	})

	It("concatenates fragments in order", func() {
		Expect(acc.Append("function")).To(Equal("function"))
		Expect(acc.Append(" App")).To(Equal("function App"))
		Expect(acc.String()).To(Equal("function App"))
		Expect(acc.Len()).To(Equal(len("function App")))
		Expect(acc.Chunks()).To(Equal(2))
	})

	It("ignores appends after finalize", func() {
		acc.Append("a")
		Expect(acc.Finalize()).To(Equal("a"))
		Expect(acc.Done()).To(BeTrue())
		acc.Append("b")
		Expect(acc.String()).To(Equal("a"))
	})

	It("resets for a new generation", func() {
		acc.Append("old")
		acc.Finalize()
		acc.Reset()
		Expect(acc.String()).To(BeEmpty())
		Expect(acc.Done()).To(BeFalse())
		Expect(acc.Chunks()).To(BeZero())
	})

	It("keeps multibyte content intact", func() {
		acc.Append("é")
		acc.Append("🙂")
		Expect(acc.String()).To(Equal("é🙂"))
	})

	It("is safe for concurrent readers", func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					_ = acc.String()
				}
			}()
		}
		for j := 0; j < 100; j++ {
			acc.Append("x")
		}
		wg.Wait()
		Expect(acc.Len()).To(Equal(100))
	})
})
