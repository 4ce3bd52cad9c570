/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package image

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	imagev1alpha1 "github.com/giantswarm/aliyun-image-operator/api/image/v1alpha1"
	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
	"github.com/giantswarm/aliyun-image-operator/pkg/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/imagelist"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss/ossfake"
	"github.com/giantswarm/aliyun-image-operator/pkg/provider"
	"github.com/giantswarm/aliyun-image-operator/pkg/session/sessionfake"
)

var _ = Describe("ComputeImage Controller", func() {
	const (
		resourceName = "flatcar-4152-2-0"
		namespace    = "default"
		listName     = "compute-images"
		imageName    = "flatcar-stable-4152.2.0"
	)

	var (
		ctx        context.Context
		env        *sessionfake.Env
		bucket     *ossfake.Bucket
		k8sClient  client.Client
		reconciler *ComputeImageReconciler
		key        types.NamespacedName
	)

	newComputeImage := func(spec imagev1alpha1.ComputeImageSpec) {
		computeImage := &imagev1alpha1.ComputeImage{
			ObjectMeta: metav1.ObjectMeta{
				Name:      resourceName,
				Namespace: namespace,
			},
			Spec: spec,
		}
		k8sClient = fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(computeImage).
			WithStatusSubresource(computeImage).
			Build()
		reconciler.Client = k8sClient
	}

	doReconcile := func() (ctrl.Result, error) {
		return reconciler.Reconcile(ctx, reconcile.Request{NamespacedName: key})
	}

	get := func() *imagev1alpha1.ComputeImage {
		computeImage := &imagev1alpha1.ComputeImage{}
		Expect(k8sClient.Get(ctx, key, computeImage)).To(Succeed())
		return computeImage
	}

	cloudID := func(region string) string {
		i, ok := env.Cloud.Image(region, imageName)
		Expect(ok).To(BeTrue(), "image missing in %s", region)
		return i.ID
	}

	BeforeEach(func() {
		ctx = context.Background()
		key = types.NamespacedName{Name: resourceName, Namespace: namespace}

		env = sessionfake.New("cn-beijing", "cn-shanghai", "cn-hangzhou")
		bucket = env.Bucket("images")
		bucket.Put("flatcar.qcow2", []byte("flatcar"))

		s, err := env.Session("cn-beijing", "images")
		Expect(err).NotTo(HaveOccurred())
		c, err := image.New(image.Config{Session: s})
		Expect(err).NotTo(HaveOccurred())
		p, err := provider.NewAliyun(provider.AliyunConfig{Client: c})
		Expect(err).NotTo(HaveOccurred())

		reconciler = &ComputeImageReconciler{
			Provider:      p,
			ListName:      listName,
			ListNamespace: namespace,
		}
	})

	Context("When reconciling a new resource", func() {
		BeforeEach(func() {
			newComputeImage(imagev1alpha1.ComputeImageSpec{
				Name:     imageName,
				BlobName: "flatcar.qcow2",
				Regions:  []string{"cn-shanghai", "cn-hangzhou"},
			})
		})

		It("should import the image and copy it to every region", func() {
			result, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(5 * time.Minute))

			computeImage := get()
			Expect(controllerutil.ContainsFinalizer(computeImage, ComputeImageFinalizer)).To(BeTrue())
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageAvailable))
			Expect(computeImage.Status.ImageID).To(Equal(cloudID("cn-beijing")))

			for _, region := range []string{"cn-beijing", "cn-shanghai", "cn-hangzhou"} {
				status := computeImage.Status.RegionStatus(region)
				Expect(status).NotTo(BeNil())
				Expect(status.ImageID).To(Equal(cloudID(region)))
				Expect(status.Error).To(BeEmpty())
			}

			Expect(env.Cloud.Calls("ImportImage")).To(HaveLen(1))
			Expect(env.Cloud.Calls("CopyImage")).To(HaveLen(2))
		})

		It("should publish the image ids in the image list", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			list, err := imagelist.New(imagelist.Config{
				Client:        k8sClient,
				ListName:      listName,
				ListNamespace: namespace,
			}, ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Regions(imageName)).To(Equal(map[string]string{
				"cn-beijing":  cloudID("cn-beijing"),
				"cn-shanghai": cloudID("cn-shanghai"),
				"cn-hangzhou": cloudID("cn-hangzhou"),
			}))
		})

		It("should not import or copy again", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())
			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			Expect(env.Cloud.Calls("ImportImage")).To(HaveLen(1))
			Expect(env.Cloud.Calls("CopyImage")).To(HaveLen(2))
			Expect(get().Status.State).To(Equal(imagev1alpha1.ComputeImageAvailable))
		})

		It("should report an import failure in the status", func() {
			env.Cloud.Fail("cn-beijing", "ImportImage", errors.New("quota exceeded"))

			_, err := doReconcile()
			Expect(err).To(HaveOccurred())

			computeImage := get()
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageError))
			status := computeImage.Status.RegionStatus("cn-beijing")
			Expect(status).NotTo(BeNil())
			Expect(status.Error).To(ContainSubstring("quota exceeded"))
			Expect(env.Cloud.Calls("CopyImage")).To(BeEmpty())
		})
	})

	Context("When a region cannot be reached", func() {
		BeforeEach(func() {
			newComputeImage(imagev1alpha1.ComputeImageSpec{
				Name:     imageName,
				BlobName: "flatcar.qcow2",
				Regions:  []string{"cn-shanghai", "cn-unknown"},
			})
		})

		It("should record the failed region and retry it", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage := get()
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageAvailable))
			Expect(computeImage.Status.RegionStatus("cn-shanghai").ImageID).To(Equal(cloudID("cn-shanghai")))

			failed := computeImage.Status.RegionStatus("cn-unknown")
			Expect(failed).NotTo(BeNil())
			Expect(failed.ImageID).To(BeEmpty())
			Expect(failed.Error).To(ContainSubstring("unable to copy image"))

			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			copies := env.Cloud.Calls("CopyImage")
			Expect(copies).To(HaveLen(3))
			Expect(copies[2].Target).To(Equal("cn-unknown"))
		})
	})

	Context("When the launch permission is set", func() {
		BeforeEach(func() {
			newComputeImage(imagev1alpha1.ComputeImageSpec{
				Name:             imageName,
				BlobName:         "flatcar.qcow2",
				Regions:          []string{"cn-shanghai"},
				LaunchPermission: "public",
			})
		})

		It("should publish the image once in every region", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			Expect(get().Status.LaunchPermission).To(Equal("public"))
			Expect(env.Cloud.LaunchPermission(cloudID("cn-beijing"))).To(Equal("public"))
			Expect(env.Cloud.LaunchPermission(cloudID("cn-shanghai"))).To(Equal("public"))

			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Cloud.Calls("ModifyImageSharePermission")).To(HaveLen(2))
		})

		It("should publish copies made in regions added later", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage := get()
			computeImage.Spec.Regions = append(computeImage.Spec.Regions, "cn-hangzhou")
			Expect(k8sClient.Update(ctx, computeImage)).To(Succeed())

			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage = get()
			Expect(computeImage.Status.LaunchPermission).To(Equal("public"))
			Expect(computeImage.Status.RegionStatus("cn-hangzhou").LaunchPermission).To(Equal("public"))
			Expect(env.Cloud.LaunchPermission(cloudID("cn-hangzhou"))).To(Equal("public"))
			Expect(env.Cloud.Calls("ModifyImageSharePermission")).To(HaveLen(3))
		})

		It("should publish a copy whose first attempt failed", func() {
			env.Cloud.Fail("cn-shanghai", "ModifyImageSharePermission", errors.New("throttled"))

			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage := get()
			Expect(computeImage.Status.LaunchPermission).To(BeEmpty())
			Expect(computeImage.Status.RegionStatus("cn-beijing").LaunchPermission).To(Equal("public"))
			Expect(computeImage.Status.RegionStatus("cn-shanghai").Error).To(ContainSubstring("throttled"))

			env.Cloud.Fail("cn-shanghai", "ModifyImageSharePermission", nil)
			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage = get()
			Expect(computeImage.Status.LaunchPermission).To(Equal("public"))
			Expect(computeImage.Status.RegionStatus("cn-shanghai").Error).To(BeEmpty())
			Expect(env.Cloud.LaunchPermission(cloudID("cn-shanghai"))).To(Equal("public"))

			publishes := env.Cloud.Calls("ModifyImageSharePermission")
			Expect(publishes).To(HaveLen(3))
			Expect(publishes[2].Region).To(Equal("cn-shanghai"))
		})
	})

	Context("When the image is deprecated", func() {
		BeforeEach(func() {
			newComputeImage(imagev1alpha1.ComputeImageSpec{
				Name:             imageName,
				BlobName:         "flatcar.qcow2",
				Regions:          []string{"cn-shanghai"},
				Deprecated:       true,
				ReplacementImage: "flatcar-stable-4230.2.0",
			})
		})

		It("should tag the image in every region", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			Expect(get().Status.State).To(Equal(imagev1alpha1.ComputeImageDeprecated))
			for _, region := range []string{"cn-beijing", "cn-shanghai"} {
				tags := env.Cloud.Tags(cloudID(region))
				Expect(tags).To(HaveKey(ecs.TagDeprecatedOn))
				Expect(tags).To(HaveKey(ecs.TagRemovalDate))
				Expect(tags).To(HaveKeyWithValue(ecs.TagReplacementImage, "flatcar-stable-4230.2.0"))
			}
		})

		It("should activate the image again", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage := get()
			computeImage.Spec.Deprecated = false
			Expect(k8sClient.Update(ctx, computeImage)).To(Succeed())

			for i := 0; i < 2; i++ {
				_, err = doReconcile()
				Expect(err).NotTo(HaveOccurred())
			}

			computeImage = get()
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageAvailable))
			for _, region := range []string{"cn-beijing", "cn-shanghai"} {
				status := computeImage.Status.RegionStatus(region)
				Expect(status.Deprecated).To(BeFalse())
				Expect(status.Error).To(BeEmpty())
				Expect(env.Cloud.Tags(cloudID(region))).To(BeEmpty())

				i, ok := env.Cloud.Image(region, imageName)
				Expect(ok).To(BeTrue())
				Expect(i.Status).To(Equal(ecs.StatusAvailable))
			}
			Expect(env.Cloud.Calls("UntagResources")).To(HaveLen(2))
		})

		It("should only deprecate the regions that failed before", func() {
			env.Cloud.Fail("cn-shanghai", "TagResources", errors.New("throttled"))

			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage := get()
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageAvailable))
			Expect(computeImage.Status.RegionStatus("cn-beijing").Deprecated).To(BeTrue())
			Expect(computeImage.Status.RegionStatus("cn-shanghai").Deprecated).To(BeFalse())
			Expect(computeImage.Status.RegionStatus("cn-shanghai").Error).To(ContainSubstring("throttled"))

			env.Cloud.Fail("cn-shanghai", "TagResources", nil)
			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			Expect(get().Status.State).To(Equal(imagev1alpha1.ComputeImageDeprecated))
			tags := env.Cloud.Calls("TagResources")
			Expect(tags).To(HaveLen(3))
			Expect(tags[2].Region).To(Equal("cn-shanghai"))
		})

		It("should deprecate copies made in regions added later", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage := get()
			computeImage.Spec.Regions = append(computeImage.Spec.Regions, "cn-hangzhou")
			Expect(k8sClient.Update(ctx, computeImage)).To(Succeed())

			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			computeImage = get()
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageDeprecated))
			Expect(computeImage.Status.RegionStatus("cn-hangzhou").Deprecated).To(BeTrue())
			Expect(env.Cloud.Tags(cloudID("cn-hangzhou"))).To(HaveKey(ecs.TagDeprecatedOn))
			Expect(env.Cloud.Calls("TagResources")).To(HaveLen(3))
		})
	})

	Context("When deleting the resource", func() {
		BeforeEach(func() {
			newComputeImage(imagev1alpha1.ComputeImageSpec{
				Name:       imageName,
				BlobName:   "flatcar.qcow2",
				Regions:    []string{"cn-shanghai", "cn-hangzhou"},
				DeleteBlob: true,
			})
		})

		It("should delete the image everywhere and remove the finalizer", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			Expect(k8sClient.Delete(ctx, get())).To(Succeed())

			_, err = doReconcile()
			Expect(err).NotTo(HaveOccurred())

			for _, region := range []string{"cn-beijing", "cn-shanghai", "cn-hangzhou"} {
				Expect(env.Cloud.Images(region)).To(BeEmpty())
			}
			Expect(bucket.Keys()).To(BeEmpty())

			list, err := imagelist.New(imagelist.Config{
				Client:        k8sClient,
				ListName:      listName,
				ListNamespace: namespace,
			}, ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Regions(imageName)).To(BeEmpty())

			err = k8sClient.Get(ctx, key, &imagev1alpha1.ComputeImage{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("should keep the finalizer when a region fails", func() {
			_, err := doReconcile()
			Expect(err).NotTo(HaveOccurred())

			env.Cloud.Fail("cn-hangzhou", "DeleteImage", errors.New("image in use"))
			Expect(k8sClient.Delete(ctx, get())).To(Succeed())

			_, err = doReconcile()
			Expect(err).To(HaveOccurred())

			computeImage := get()
			Expect(controllerutil.ContainsFinalizer(computeImage, ComputeImageFinalizer)).To(BeTrue())
			Expect(computeImage.Status.State).To(Equal(imagev1alpha1.ComputeImageError))
			Expect(computeImage.Status.RegionStatus("cn-hangzhou").Error).To(ContainSubstring("image in use"))
		})
	})

	It("should ignore resources that do not exist", func() {
		newComputeImage(imagev1alpha1.ComputeImageSpec{Name: imageName})
		key = types.NamespacedName{Name: "missing", Namespace: namespace}

		result, err := doReconcile()
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(ctrl.Result{}))
	})
})
