package pg_test

import (
	"github.com/airbusgeo/nbr-ingester/common"
	db "github.com/airbusgeo/nbr-ingester/interface/database"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ledger", func() {
	var err error
	run := "run-2020-08"
	b5 := "LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF"
	b7 := "LC08_L2SP_045032_20200815_20200920_02_T1_SR_B7.TIF"

	Describe("CreateRun", func() {
		It("should create the run once", func() {
			err = backend.CreateRun(ctx, run)
			Expect(err).NotTo(HaveOccurred())
			err = backend.CreateRun(ctx, run)
			Expect(err).To(BeAssignableToTypeOf(db.ErrAlreadyExists{}))
		})
		It("should list the runs", func() {
			runs, err := backend.Runs(ctx, "run-*")
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(ContainElement(run))
			runs, err = backend.Runs(ctx, "RUN-2020-0?(?i)")
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(Equal([]string{run}))
		})
	})

	Describe("SetStatus", func() {
		It("should fail on unknown run", func() {
			err = backend.SetStatus(ctx, "unknown", "B5", b5, common.StatusDONE, nil)
			Expect(err).To(BeAssignableToTypeOf(db.ErrNotFound{}))
		})

		It("should record and update statuses", func() {
			message := "timeout"
			Expect(backend.SetStatus(ctx, run, "B5", b5, common.StatusRETRY, &message)).To(Succeed())
			Expect(backend.SetStatus(ctx, run, "B7", b7, common.StatusDONE, nil)).To(Succeed())
			Expect(backend.SetStatus(ctx, run, "B5", b5, common.StatusDONE, nil)).To(Succeed())

			statuses, err := backend.Statuses(ctx, run)
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(Equal(map[string]common.Status{b5: common.StatusDONE, b7: common.StatusDONE}))

			downloads, err := backend.Downloads(ctx, run, "B5", nil, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(downloads).To(HaveLen(1))
			Expect(downloads[0].Message).To(Equal("timeout"))

			status, err := backend.RunStatus(ctx, run)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Done).To(BeEquivalentTo(2))
		})
	})

	Describe("RecordReport", func() {
		It("should record the report in a new run", func() {
			err = db.RecordReport(ctx, backend, common.DownloadReport{Run: "report", Results: []common.DownloadResult{
				{Band: "B5", DisplayID: b5, Status: common.StatusDONE},
				{Band: "B7", DisplayID: b7, Status: common.StatusFAILED, Message: "not found"},
			}})
			Expect(err).NotTo(HaveOccurred())
			downloads, err := backend.Downloads(ctx, "report", "", []common.Status{common.StatusFAILED}, 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(downloads).To(HaveLen(1))
			Expect(downloads[0].DisplayID).To(Equal(b7))

			downloads, err = backend.Downloads(ctx, "report", "", []common.Status{common.StatusDONE, common.StatusFAILED}, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(downloads).To(HaveLen(2))
		})
	})

	Describe("DeleteRun", func() {
		It("should delete the run and its downloads", func() {
			Expect(backend.DeleteRun(ctx, "report")).To(Succeed())
			statuses, err := backend.Statuses(ctx, "report")
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(BeEmpty())
			Expect(backend.DeleteRun(ctx, "report")).To(BeAssignableToTypeOf(db.ErrNotFound{}))
		})
	})
})
