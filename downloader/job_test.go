package downloader_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/downloader"
	"github.com/airbusgeo/nbr-ingester/interface/provider"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Job", func() {
	var layout downloader.Layout
	var providers []provider.BandProvider
	var ledger *MokeLedger
	var root string
	var err error

	BeforeEach(func() {
		root, err = os.MkdirTemp("", "job")
		Expect(err).NotTo(HaveOccurred())
		layout = downloader.DefaultLayout(root)
		ledger = &MokeLedger{}
		providers = []provider.BandProvider{provider.NewM2MProvider(client, bandDataset)}
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	It("should create one job per band file", func() {
		jobs := downloader.Jobs("run1", entities.BandFiles{
			"B5": {{EntityID: "L2SR_B5_1", DisplayID: b5File}},
			"B7": {{EntityID: "L2SR_B7_1", DisplayID: b7File}},
		})
		Expect(jobs).To(HaveLen(2))
		Expect(jobs[0].File.Band).To(Equal("B5"))
		Expect(jobs[1].File.Band).To(Equal("B7"))
		Expect(jobs[1].Run).To(Equal("run1"))
	})

	It("should parse a valid payload", func() {
		data, _ := json.Marshal(downloader.Job{Run: "run1", File: entities.BandFile{EntityID: "L2SR_B5_1", DisplayID: b5File, Band: "B5"}})
		job, err := downloader.ParseJob(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.File.DisplayID).To(Equal(b5File))
	})

	It("should reject an invalid payload", func() {
		_, err = downloader.ParseJob([]byte(`{"run":"run1","file":{"displayId":"x"}}`))
		Expect(err).To(HaveOccurred())
		_, err = downloader.ParseJob([]byte(`not json`))
		Expect(err).To(HaveOccurred())
	})

	It("should download the file into its band directory", func() {
		job := downloader.Job{Run: "run1", File: entities.BandFile{EntityID: "L2SR_B5_1", DisplayID: b5File, Band: "B5"}}
		res, err := downloader.ProcessJob(ctx, providers, job, layout, downloader.Options{Ledger: ledger})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(common.StatusDONE))
		Expect(filepath.Join(layout.DataDir, "B5", b5File)).To(BeAnExistingFile())
		Expect(filepath.Join(layout.StagingDir, b5File)).NotTo(BeAnExistingFile())

		statuses, _ := ledger.Statuses(ctx, "run1")
		Expect(statuses[b5File]).To(Equal(common.StatusDONE))

		res, err = downloader.ProcessJob(ctx, providers, job, layout, downloader.Options{Ledger: ledger})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Message).To(Equal("already downloaded"))
	})

	It("should fail on an unknown file", func() {
		job := downloader.Job{Run: "run1", File: entities.BandFile{EntityID: "unknown", DisplayID: "unknown.TIF", Band: "B5"}}
		res, err := downloader.ProcessJob(ctx, providers, job, layout, downloader.Options{Ledger: ledger})
		Expect(err).To(HaveOccurred())
		Expect(res.Status).NotTo(Equal(common.StatusDONE))
	})
})
