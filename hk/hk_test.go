package hk_test

import (
	"time"

	"github.com/openfilter/openfilter/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("housekeeper", func() {
	It("fires a registered task after its interval and reschedules it", func() {
		fired := make(chan struct{}, 8)
		hk.DefaultHK.Reg("test-task", func() time.Duration {
			fired <- struct{}{}
			return 20 * time.Millisecond
		}, 20*time.Millisecond)
		defer hk.DefaultHK.Unreg("test-task")

		Eventually(fired, time.Second).Should(Receive())
		Eventually(fired, time.Second).Should(Receive())
	})

	It("stops firing once unregistered", func() {
		fired := make(chan struct{}, 8)
		hk.DefaultHK.Reg("cancelable", func() time.Duration {
			fired <- struct{}{}
			return 15 * time.Millisecond
		}, 15*time.Millisecond)
		Eventually(fired, time.Second).Should(Receive())
		hk.DefaultHK.Unreg("cancelable")

		for len(fired) > 0 {
			<-fired
		}
		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})
})
