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
	"fmt"
	"strings"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	imagev1alpha1 "github.com/giantswarm/aliyun-image-operator/api/image/v1alpha1"
	"github.com/giantswarm/aliyun-image-operator/pkg/imagelist"
	"github.com/giantswarm/aliyun-image-operator/pkg/propagate"
	"github.com/giantswarm/aliyun-image-operator/pkg/provider"
)

const (
	ComputeImageFinalizer = "aliyun-image-operator.finalizers.giantswarm.io/compute-image-controller"
)

// ComputeImageReconciler reconciles a ComputeImage object
type ComputeImageReconciler struct {
	client.Client
	Provider provider.Provider

	// ListName and ListNamespace locate the image list configmap. The
	// image list is not maintained when ListName is empty.
	ListName      string
	ListNamespace string
}

// +kubebuilder:rbac:groups=image.giantswarm.io,resources=computeimages,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=image.giantswarm.io,resources=computeimages/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=image.giantswarm.io,resources=computeimages/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update

// Reconcile imports the image into the home region, copies it to the
// requested regions and keeps its launch permission and deprecation in sync
// in all of them.
func (r *ComputeImageReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := log.FromContext(ctx)

	// Fetch the ComputeImage instance
	computeImage := &imagev1alpha1.ComputeImage{}
	err := r.Get(ctx, req.NamespacedName, computeImage)
	if err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	// Handle deletion
	if IsDeleted(computeImage) {
		log.Info("ComputeImage is being deleted", "computeImage", computeImage.Name)

		if err := r.DeleteProvider(ctx, computeImage); err != nil {
			if statusErr := r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImageError); statusErr != nil {
				return ctrl.Result{}, fmt.Errorf("failed to delete compute image: %w\nfailed to update status: %w", err, statusErr)
			}
			return ctrl.Result{}, err
		}

		// Remove finalizer
		if controllerutil.ContainsFinalizer(computeImage, ComputeImageFinalizer) {
			controllerutil.RemoveFinalizer(computeImage, ComputeImageFinalizer)
			if err := r.Update(ctx, computeImage); err != nil {
				return ctrl.Result{}, err
			}
			log.Info("Finalizer removed from ComputeImage", "finalizer", ComputeImageFinalizer, "computeImage", computeImage.Name)
		}
		return ctrl.Result{}, nil
	}

	// Add finalizer
	if !controllerutil.ContainsFinalizer(computeImage, ComputeImageFinalizer) {
		controllerutil.AddFinalizer(computeImage, ComputeImageFinalizer)
		if err := r.Update(ctx, computeImage); err != nil {
			return ctrl.Result{}, err
		}
		log.Info("Finalizer added to ComputeImage", "finalizer", ComputeImageFinalizer, "computeImage", computeImage.Name)
	}

	if computeImage.Status.State == "" {
		if err := r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImagePending); err != nil {
			return ctrl.Result{}, err
		}
	}

	if err := r.CreateProvider(ctx, computeImage); err != nil {
		computeImage.Status.SetRegionStatus(imagev1alpha1.RegionStatus{
			Region: r.Provider.HomeRegion(),
			Error:  err.Error(),
		})
		if statusErr := r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImageError); statusErr != nil {
			return ctrl.Result{}, fmt.Errorf("failed to create compute image: %w\nfailed to update status: %w", err, statusErr)
		}
		return ctrl.Result{}, err
	}

	if err := r.ReplicateProvider(ctx, computeImage); err != nil {
		return ctrl.Result{}, err
	}

	if err := r.PublishProvider(ctx, computeImage); err != nil {
		return ctrl.Result{}, err
	}

	state, err := r.DeprecationProvider(ctx, computeImage)
	if err != nil {
		return ctrl.Result{}, err
	}

	if err := r.UpdateImageList(ctx, computeImage); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to update image list: %w", err)
	}

	if err := r.UpdateStatus(ctx, computeImage, state); err != nil {
		return ctrl.Result{}, err
	}
	return DefaultRequeue(), nil
}

// CreateProvider makes sure the image exists in the home region.
func (r *ComputeImageReconciler) CreateProvider(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) error {
	log := log.FromContext(ctx)
	home := r.Provider.HomeRegion()

	// check if the image is already imported
	id, exists, err := r.Provider.Exists(ctx, computeImage.Spec.Name)
	if err != nil {
		return fmt.Errorf("failed to check if image exists: %w", err)
	}

	if !exists {
		log.Info("Compute image not found, importing", "computeImage", computeImage.Name, "region", home)

		// set the status
		if err := r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImageCreating); err != nil {
			return err
		}

		id, err = r.Provider.Create(ctx, provider.Image{
			Name:         computeImage.Spec.Name,
			Description:  computeImage.Spec.Description,
			BlobName:     computeImage.Spec.BlobName,
			Platform:     computeImage.Spec.Platform,
			OSType:       computeImage.Spec.OSType,
			Architecture: computeImage.Spec.Architecture,
			DiskSizeGB:   computeImage.Spec.DiskSizeGB,
		})
		if err != nil {
			return fmt.Errorf("failed to import image: %w", err)
		}

		log.Info("Compute image imported", "computeImage", computeImage.Name, "region", home, "imageID", id)
	}

	computeImage.Status.ImageID = id
	status := imagev1alpha1.RegionStatus{Region: home, ImageID: id}
	if existing := computeImage.Status.RegionStatus(home); existing != nil && existing.ImageID == id {
		status = *existing
		status.Error = ""
	}
	computeImage.Status.SetRegionStatus(status)
	return nil
}

// ReplicateProvider copies the image to every requested region without a
// recorded copy. Failed regions are retried on the next reconciliation.
func (r *ComputeImageReconciler) ReplicateProvider(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) error {
	var missing []string
	for _, region := range computeImage.Spec.Regions {
		if region == r.Provider.HomeRegion() {
			continue
		}
		if status := computeImage.Status.RegionStatus(region); status == nil || status.ImageID == "" {
			missing = append(missing, region)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if err := r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImageReplicating); err != nil {
		return err
	}

	result, err := r.Provider.Replicate(ctx, computeImage.Spec.Name, missing)
	if err != nil {
		return fmt.Errorf("failed to replicate image: %w", err)
	}
	for region, outcome := range result {
		status := imagev1alpha1.RegionStatus{Region: region, ImageID: outcome.Value}
		if outcome.Failed() {
			status.Error = outcome.Err.Error()
		}
		computeImage.Status.SetRegionStatus(status)
	}
	return nil
}

// PublishProvider applies the launch permission to every copy that does not
// have it yet, copies made after an earlier publish included.
func (r *ComputeImageReconciler) PublishProvider(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) error {
	permission := computeImage.Spec.LaunchPermission
	if permission == "" {
		return nil
	}

	pending := func(status imagev1alpha1.RegionStatus) bool {
		return status.LaunchPermission != permission
	}
	if targets := copyRegionsWhere(computeImage, pending); len(targets) > 0 {
		result, err := r.Provider.Publish(ctx, computeImage.Spec.Name, permission, targets)
		if err != nil {
			return fmt.Errorf("failed to publish image: %w", err)
		}
		applyOutcomes(computeImage, result, func(status *imagev1alpha1.RegionStatus) {
			status.LaunchPermission = permission
		})
	}

	computeImage.Status.LaunchPermission = ""
	if len(copyRegionsWhere(computeImage, pending)) == 0 {
		computeImage.Status.LaunchPermission = permission
	}
	return nil
}

// DeprecationProvider deprecates or reactivates every copy whose deprecation
// differs from the spec and returns the resulting state. The image is
// Deprecated once every copy is, and stays so until no copy is left deprecated.
func (r *ComputeImageReconciler) DeprecationProvider(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) (imagev1alpha1.ComputeImageState, error) {
	deprecate := computeImage.Spec.Deprecated

	targets := copyRegionsWhere(computeImage, func(status imagev1alpha1.RegionStatus) bool {
		return status.Deprecated != deprecate
	})
	if len(targets) > 0 {
		var result propagate.Result
		var err error
		if deprecate {
			result, err = r.Provider.Deprecate(ctx, computeImage.Spec.Name, computeImage.Spec.ReplacementImage, targets)
		} else {
			result, err = r.Provider.Activate(ctx, computeImage.Spec.Name, targets)
		}
		if err != nil {
			return "", fmt.Errorf("failed to update image deprecation: %w", err)
		}
		applyOutcomes(computeImage, result, func(status *imagev1alpha1.RegionStatus) {
			status.Deprecated = deprecate
		})
	}

	deprecated := copyRegionsWhere(computeImage, func(status imagev1alpha1.RegionStatus) bool {
		return status.Deprecated
	})
	if (deprecate && len(deprecated) == len(copyRegions(computeImage))) || (!deprecate && len(deprecated) > 0) {
		return imagev1alpha1.ComputeImageDeprecated, nil
	}
	return imagev1alpha1.ComputeImageAvailable, nil
}

// DeleteProvider deletes the image in every region it was recorded in and
// removes it from the image list.
func (r *ComputeImageReconciler) DeleteProvider(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) error {
	log := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(computeImage, ComputeImageFinalizer) {
		return nil
	}

	// set the status
	if err := r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImageDeleting); err != nil {
		return err
	}

	result, err := r.Provider.Delete(ctx, computeImage.Spec.Name, computeImage.Spec.DeleteBlob, copyRegions(computeImage))
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if failed := result.Failed(); len(failed) > 0 {
		applyOutcomes(computeImage, result, nil)
		return fmt.Errorf("failed to delete image in regions %s", strings.Join(failed, ", "))
	}

	if err := r.removeFromImageList(ctx, computeImage); err != nil {
		return fmt.Errorf("failed to update image list: %w", err)
	}

	log.Info("Compute image deleted", "computeImage", computeImage.Name, "regions", len(result))

	// set the status
	computeImage.Status.Regions = nil
	computeImage.Status.ImageID = ""
	return r.UpdateStatus(ctx, computeImage, imagev1alpha1.ComputeImageDeleted)
}

// UpdateImageList publishes the image ids of all regions.
func (r *ComputeImageReconciler) UpdateImageList(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) error {
	if r.ListName == "" {
		return nil
	}
	list, err := imagelist.New(imagelist.Config{
		Client:        r.Client,
		ListName:      r.ListName,
		ListNamespace: r.ListNamespace,
	}, ctx)
	if err != nil {
		return err
	}

	ids := map[string]string{}
	for _, status := range computeImage.Status.Regions {
		if status.ImageID != "" {
			ids[status.Region] = status.ImageID
		}
	}
	return list.SetImage(ctx, computeImage.Spec.Name, ids)
}

func (r *ComputeImageReconciler) removeFromImageList(ctx context.Context, computeImage *imagev1alpha1.ComputeImage) error {
	if r.ListName == "" {
		return nil
	}
	list, err := imagelist.New(imagelist.Config{
		Client:        r.Client,
		ListName:      r.ListName,
		ListNamespace: r.ListNamespace,
	}, ctx)
	if err != nil {
		return err
	}
	return list.RemoveImage(ctx, computeImage.Spec.Name)
}

// SetupWithManager sets up the controller with the Manager.
func (r *ComputeImageReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&imagev1alpha1.ComputeImage{}).
		Named("image-computeimage").
		Complete(r)
}

func (r *ComputeImageReconciler) UpdateStatus(ctx context.Context, computeImage *imagev1alpha1.ComputeImage, state imagev1alpha1.ComputeImageState) error {
	log := log.FromContext(ctx)

	previous := computeImage.Status.State
	computeImage.Status.State = state
	if err := r.Status().Update(ctx, computeImage); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if previous != state {
		log.Info("Compute image status updated", "computeImage", computeImage.Name, "state", state)
	}
	return nil
}

func IsDeleted(computeImage *imagev1alpha1.ComputeImage) bool {
	return !computeImage.DeletionTimestamp.IsZero()
}

func DefaultRequeue() reconcile.Result {
	return ctrl.Result{
		RequeueAfter: time.Minute * 5,
	}
}

// copyRegions returns the regions that hold the image, the home region
// included.
func copyRegions(computeImage *imagev1alpha1.ComputeImage) []string {
	return copyRegionsWhere(computeImage, func(imagev1alpha1.RegionStatus) bool { return true })
}

func copyRegionsWhere(computeImage *imagev1alpha1.ComputeImage, match func(imagev1alpha1.RegionStatus) bool) []string {
	var regions []string
	for _, status := range computeImage.Status.Regions {
		if status.ImageID != "" && status.Region != "" && match(status) {
			regions = append(regions, status.Region)
		}
	}
	return regions
}

// applyOutcomes stores the error of every failed region. Successful regions
// lose their previous error and are passed to apply when it is set.
func applyOutcomes(computeImage *imagev1alpha1.ComputeImage, result propagate.Result, apply func(status *imagev1alpha1.RegionStatus)) {
	for region, outcome := range result {
		status := imagev1alpha1.RegionStatus{Region: region}
		if existing := computeImage.Status.RegionStatus(region); existing != nil {
			status = *existing
		}
		status.Error = ""
		if outcome.Failed() {
			status.Error = outcome.Err.Error()
		} else if apply != nil {
			apply(&status)
		}
		computeImage.Status.SetRegionStatus(status)
	}
}
