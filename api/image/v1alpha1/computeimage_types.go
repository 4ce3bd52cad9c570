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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NOTE: json tags are required.  Any new fields you add must have json tags for the fields to be serialized.

// ComputeImageSpec defines the desired state of ComputeImage.
type ComputeImageSpec struct {
	// Name is the name of the image in every region
	Name string `json:"name"`
	// Description is copied to every region
	// +optional
	Description string `json:"description,omitempty"`
	// BlobName is the object in the operator bucket the image is imported from
	BlobName string `json:"blobName"`
	// Platform is the operating system distribution of the image
	// +optional
	Platform string `json:"platform,omitempty"`
	// OSType is linux or windows
	// +optional
	OSType string `json:"osType,omitempty"`
	// Architecture is x86_64 or arm64
	// +optional
	Architecture string `json:"architecture,omitempty"`
	// DiskSizeGB is the size of the system disk
	// +optional
	DiskSizeGB int `json:"diskSizeGB,omitempty"`

	// Regions the image is copied to in addition to the home region.
	// +optional
	Regions []string `json:"regions,omitempty"`
	// LaunchPermission publishes the image in every region when set
	// +optional
	LaunchPermission string `json:"launchPermission,omitempty"`
	// Deprecated marks the image deprecated in every region
	// +optional
	Deprecated bool `json:"deprecated,omitempty"`
	// ReplacementImage is recorded on the image when it is deprecated
	// +optional
	ReplacementImage string `json:"replacementImage,omitempty"`
	// DeleteBlob deletes the blob together with the image
	// +optional
	DeleteBlob bool `json:"deleteBlob,omitempty"`
}

// ComputeImageState is the state of the image
type ComputeImageState string

const (
	ComputeImagePending     ComputeImageState = "Pending"
	ComputeImageCreating    ComputeImageState = "Creating"
	ComputeImageReplicating ComputeImageState = "Replicating"
	ComputeImageAvailable   ComputeImageState = "Available"
	ComputeImageDeprecated  ComputeImageState = "Deprecated"
	ComputeImageError       ComputeImageState = "Error"
	ComputeImageDeleting    ComputeImageState = "Deleting"
	ComputeImageDeleted     ComputeImageState = "Deleted"
)

// RegionStatus is the outcome of the last operation in a region.
type RegionStatus struct {
	Region string `json:"region"`
	// ImageID is the id of the image in the region
	// +optional
	ImageID string `json:"imageID,omitempty"`
	// LaunchPermission is the launch permission applied to the image in the region
	// +optional
	LaunchPermission string `json:"launchPermission,omitempty"`
	// Deprecated is true once the image is deprecated in the region
	// +optional
	Deprecated bool `json:"deprecated,omitempty"`
	// Error of the last failed operation in the region
	// +optional
	Error string `json:"error,omitempty"`
}

// ComputeImageStatus defines the observed state of ComputeImage.
type ComputeImageStatus struct {
	// State is the state that the image is currently in
	State ComputeImageState `json:"state,omitempty"`
	// ImageID is the id of the image in the home region
	// +optional
	ImageID string `json:"imageID,omitempty"`
	// LaunchPermission is set once the launch permission is applied in every region
	// +optional
	LaunchPermission string `json:"launchPermission,omitempty"`
	// Regions is the state of the image in every region
	// +optional
	Regions []RegionStatus `json:"regions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Image",type=string,JSONPath=`.spec.name`
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="ID",type=string,JSONPath=`.status.imageID`

// ComputeImage is the Schema for the computeimages API.
type ComputeImage struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ComputeImageSpec   `json:"spec,omitempty"`
	Status ComputeImageStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ComputeImageList contains a list of ComputeImage.
type ComputeImageList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ComputeImage `json:"items"`
}

// RegionStatus returns the status of region, or nil.
func (s *ComputeImageStatus) RegionStatus(region string) *RegionStatus {
	for i := range s.Regions {
		if s.Regions[i].Region == region {
			return &s.Regions[i]
		}
	}
	return nil
}

// SetRegionStatus replaces the status of a region, adding it if needed.
func (s *ComputeImageStatus) SetRegionStatus(status RegionStatus) {
	if existing := s.RegionStatus(status.Region); existing != nil {
		*existing = status
		return
	}
	s.Regions = append(s.Regions, status)
}

func init() {
	SchemeBuilder.Register(&ComputeImage{}, &ComputeImageList{})
}
