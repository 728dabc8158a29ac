package downloader_test

import (
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/downloader"
	"github.com/airbusgeo/nbr-ingester/interface/provider"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Downloader", func() {
	var layout downloader.Layout
	var providers []provider.BandProvider
	var report common.DownloadReport
	var ledger *MokeLedger
	var err error
	var root string

	files := entities.BandFiles{
		"B5": {{EntityID: "L2SR_B5_1", DisplayID: b5File}, {EntityID: "L2SR_B5_2", DisplayID: b5File2}},
		"B7": {{EntityID: "L2SR_B7_1", DisplayID: b7File}},
	}

	BeforeEach(func() {
		root, err = os.MkdirTemp("", "downloader")
		Expect(err).NotTo(HaveOccurred())
		layout = downloader.DefaultLayout(root)
		ledger = &MokeLedger{}
		m2mProvider := provider.NewM2MProvider(client, bandDataset)
		providers = []provider.BandProvider{provider.NewLocalProvider(filepath.Join(root, "mirror"), ""), m2mProvider}
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	Context("downloading all the files", func() {
		BeforeEach(func() {
			report, err = downloader.DownloadBandFiles(ctx, providers, files, layout, downloader.Options{Run: "run1", Ledger: ledger, Parallelism: 2})
		})

		It("should download every file in the staging directory", func() {
			Expect(err).NotTo(HaveOccurred())
			for _, f := range []string{b5File, b7File, b5File2} {
				Expect(filepath.Join(layout.StagingDir, f)).To(BeAnExistingFile())
			}
		})

		It("should report the files by band", func() {
			filenames := report.Filenames()
			Expect(filenames["B5"]).To(ConsistOf(b5File, b5File2))
			Expect(filenames["B7"]).To(ConsistOf(b7File))
			Expect(report.Results[0].Provider).To(Equal("M2M"))
		})

		It("should record the downloads in the ledger", func() {
			statuses, _ := ledger.Statuses(ctx, "run1")
			Expect(statuses).To(HaveLen(3))
			Expect(statuses[b7File]).To(Equal(common.StatusDONE))
		})

		It("should organize the files", func() {
			Expect(downloader.OrganizeBandFiles(ctx, layout.StagingDir, layout.DataDir, report.Filenames())).To(Succeed())
			Expect(filepath.Join(layout.DataDir, "B5", b5File2)).To(BeAnExistingFile())
			Expect(filepath.Join(layout.DataDir, "B7", b7File)).To(BeAnExistingFile())
			Expect(layout.StagingDir).NotTo(BeADirectory())
		})
	})

	Context("resuming a run", func() {
		It("should skip the files already downloaded", func() {
			ledger.SetStatus(ctx, "run2", "B5", b5File, common.StatusDONE, nil)
			n := server.Requests("download-request")
			report, err = downloader.DownloadBandFiles(ctx, providers, files, layout, downloader.Options{Run: "run2", Ledger: ledger})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Requests("download-request")).To(Equal(n + 2))
			Expect(filepath.Join(layout.StagingDir, b5File)).NotTo(BeAnExistingFile())
			Expect(report.Filenames()["B5"]).To(ContainElement(b5File))
		})
	})

	Context("with an unavailable file", func() {
		It("should report the failure and download the other files", func() {
			missing := entities.BandFiles{"B5": {{EntityID: "unknown", DisplayID: "LC08_L2SP_047032_20200815_20200920_02_T1_SR_B5.TIF"}}, "B7": files["B7"]}
			report, err = downloader.DownloadBandFiles(ctx, providers, missing, layout, downloader.Options{Run: "run3", Ledger: ledger})
			Expect(err).To(HaveOccurred())
			Expect(report.Failed()).To(HaveLen(1))
			Expect(report.Failed()[0].Status).To(Equal(common.StatusFAILED))
			Expect(report.Filenames()["B7"]).To(ConsistOf(b7File))
		})
	})

	Context("without provider", func() {
		It("should fail", func() {
			_, err = downloader.DownloadBandFiles(ctx, nil, files, layout, downloader.Options{})
			Expect(err).To(HaveOccurred())
		})
	})
})
