package m2m_test

import (
	"errors"
	"time"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/interface/catalog/m2m"
	"github.com/go-spatial/geom"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("M2M", func() {
	var client *m2m.Client
	var err error

	BeforeEach(func() {
		client = newClient()
		err = client.Login(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(client.Logout(ctx)).To(Succeed())
	})

	Describe("SearchScenes", func() {
		var scenes []entities.Scene
		var pageSize int

		BeforeEach(func() {
			pageSize = m2m.PageSize
		})
		AfterEach(func() {
			m2m.PageSize = pageSize
		})

		Context("with a page size lower than the number of scenes", func() {
			BeforeEach(func() {
				m2m.PageSize = 2
				scenes, err = client.SearchScenes(ctx, sceneDataset, entities.SearchParams{})
			})
			It("should return all the scenes", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(scenes).To(HaveLen(3))
				Expect(scenes[2].EntityID).To(Equal("LC80460322020235LGN00"))
			})
			It("should parse the publish date", func() {
				Expect(scenes[0].PublishDate).To(BeTemporally("==", time.Date(2020, 9, 20, 10, 0, 0, 0, time.UTC)))
			})
		})

		Context("with a maximum number of results", func() {
			BeforeEach(func() {
				scenes, err = client.SearchScenes(ctx, sceneDataset, entities.SearchParams{MaxResults: 2})
			})
			It("should stop at max results", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(scenes).To(HaveLen(2))
			})
		})

		Context("on an unknown dataset", func() {
			BeforeEach(func() {
				scenes, err = client.SearchScenes(ctx, "unknown", entities.SearchParams{})
			})
			It("should return no scene", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(scenes).To(BeEmpty())
			})
		})

		Context("when the api key has expired", func() {
			var logins int
			BeforeEach(func() {
				logins = server.Requests("login-token")
				server.ExpireKey()
				scenes, err = client.SearchScenes(ctx, sceneDataset, entities.SearchParams{})
			})
			It("should login again and return the scenes", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(scenes).To(HaveLen(3))
				Expect(server.Requests("login-token")).To(Equal(logins + 1))
			})
		})

		Context("when the account is not authorized", func() {
			var logins int
			BeforeEach(func() {
				logins = server.Requests("login-token")
				server.Unauthorized = true
				scenes, err = client.SearchScenes(ctx, sceneDataset, entities.SearchParams{})
			})
			AfterEach(func() {
				server.Unauthorized = false
			})
			It("should login again only once and fail", func() {
				var apiErr m2m.APIError
				Expect(errors.As(err, &apiErr)).To(BeTrue())
				Expect(apiErr.Code).To(Equal("AUTH_UNAUTHORIZED"))
				Expect(server.Requests("login-token")).To(Equal(logins + 1))
			})
		})
	})

	Describe("DownloadOptions", func() {
		var products []entities.Product

		Context("on a scene with band files", func() {
			BeforeEach(func() {
				products, err = client.DownloadOptions(ctx, sceneDataset, []string{"LC80450322020228LGN00", "LC80460322020235LGN00"})
			})
			It("should return the products and their secondary downloads", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(products).To(HaveLen(1))
				Expect(products[0].DownloadSystem).To(Equal("folder"))
				Expect(products[0].SecondaryDownloads).To(HaveLen(1))
				Expect(products[0].SecondaryDownloads[0].DisplayID).To(HaveSuffix("_SR_B5.TIF"))
			})
		})

		Context("without entity", func() {
			It("should not query the catalog", func() {
				n := server.Requests("download-options")
				products, err = client.DownloadOptions(ctx, sceneDataset, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(products).To(BeEmpty())
				Expect(server.Requests("download-options")).To(Equal(n))
			})
		})
	})

	Describe("Downloads", func() {
		var available, preparing []m2m.Download

		BeforeEach(func() {
			server.Preparing = 2
		})
		AfterEach(func() {
			server.Preparing = 0
		})

		It("should prepare then retrieve the download", func() {
			available, preparing, err = client.RequestDownloads(ctx, []m2m.DownloadRequest{{EntityID: "L2SR_LC80450322020228LGN00_B5", ProductID: "5e83d14f30ea90a9"}}, "test-label")
			Expect(err).NotTo(HaveOccurred())
			Expect(available).To(BeEmpty())
			Expect(preparing).To(HaveLen(1))

			available, _, err = client.RetrieveDownloads(ctx, "test-label")
			Expect(err).NotTo(HaveOccurred())
			Expect(available).To(BeEmpty())

			available, _, err = client.RetrieveDownloads(ctx, "test-label")
			Expect(err).NotTo(HaveOccurred())
			Expect(available).To(HaveLen(1))
			Expect(available[0].URL).To(HaveSuffix("/download/LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF"))
		})

		It("should fail if no download can be requested", func() {
			_, _, err = client.RequestDownloads(ctx, []m2m.DownloadRequest{{EntityID: "unknown", ProductID: "unknown"}}, "test-failed")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Errors", func() {
		It("should fail before login", func() {
			_, err = newClient().SearchScenes(ctx, sceneDataset, entities.SearchParams{})
			Expect(err).To(HaveOccurred())
		})
		It("should mark rate limits as temporary", func() {
			apiErr := m2m.APIError{Endpoint: "download-request", Code: "RATE_LIMIT_USER_DL"}
			Expect(apiErr.Temporary()).To(BeTrue())
			Expect(errors.As(error(apiErr), &m2m.APIError{})).To(BeTrue())
		})
	})

	Describe("NewSceneFilter", func() {
		It("should build spatial and acquisition filters", func() {
			filter := m2m.NewSceneFilter(geom.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
				time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC))
			Expect(filter).To(HaveKey("spatialFilter"))
			Expect(filter["acquisitionFilter"]).To(Equal(map[string]string{"start": "2020-08-01", "end": "2020-10-01"}))
		})
		It("should omit the unset filters", func() {
			Expect(m2m.NewSceneFilter(nil, time.Time{}, time.Time{})).To(BeEmpty())
		})
	})
})
