package imagelist

import (
	"context"
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Config is a struct that holds the configuration for the ImageList object
type Config struct {
	Client        client.Client
	ListName      string
	ListNamespace string
}

// ImageList is the catalog of published images. Every key of the configmap is
// an image name, its value a YAML map from region to image id.
type ImageList struct {
	client.Client
	ListName      string
	ListNamespace string
	Images        map[string]map[string]string
}

// New creates a new ImageList object for a configmap with the list of images
func New(c Config, ctx context.Context) (*ImageList, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if c.ListName == "" || c.ListNamespace == "" {
		return nil, fmt.Errorf("list name and namespace are required")
	}

	list := &ImageList{
		Client:        c.Client,
		ListName:      c.ListName,
		ListNamespace: c.ListNamespace,
		Images:        map[string]map[string]string{},
	}

	// sync the list of images with the configmap
	if err := list.updateImageList(ctx); err != nil {
		return nil, err
	}
	return list, nil
}

// Regions returns the image id of every region the image is published in.
func (i *ImageList) Regions(image string) map[string]string {
	return maps.Clone(i.Images[image])
}

func (i *ImageList) RemoveImage(ctx context.Context, image string) error {
	if _, ok := i.Images[image]; !ok {
		return nil
	}
	delete(i.Images, image)
	log.FromContext(ctx).Info("Removing image from image list", "image", image, "imageList", i.ListName)
	return i.updateConfigmap(ctx)
}

// SetImage records the image ids of an image, replacing earlier ones.
func (i *ImageList) SetImage(ctx context.Context, image string, regions map[string]string) error {
	if maps.Equal(i.Images[image], regions) {
		return nil
	}
	i.Images[image] = maps.Clone(regions)
	log.FromContext(ctx).Info("Updating image in image list", "image", image, "imageList", i.ListName, "regions", len(regions))
	return i.updateConfigmap(ctx)
}

// updateConfigmap updates the configmap with the list of images
func (i *ImageList) updateConfigmap(ctx context.Context) error {
	// get cm with list of images
	object := &corev1.ConfigMap{}
	if err := i.Client.Get(ctx, client.ObjectKey{
		Namespace: i.ListNamespace,
		Name:      i.ListName,
	}, object); err != nil {
		return err
	}

	data := make(map[string]string, len(i.Images))
	for image, regions := range i.Images {
		encoded, err := yaml.Marshal(regions)
		if err != nil {
			return fmt.Errorf("failed to encode regions of image %s: %w", image, err)
		}
		data[image] = string(encoded)
	}

	// update the list of images inside the configmap
	object.Data = data
	return i.Client.Update(ctx, object)
}

func (i *ImageList) updateImageList(ctx context.Context) error {
	// get cm with list of images
	object := &corev1.ConfigMap{}
	if err := i.Client.Get(ctx, client.ObjectKey{
		Namespace: i.ListNamespace,
		Name:      i.ListName,
	}, object); err != nil {
		// if the configmap does not exist, create it
		if apierrors.IsNotFound(err) {
			object = getEmptyImageListConfigMap(i.ListName, i.ListNamespace)
			if err := i.Client.Create(ctx, object); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	// update the list of images inside the ImageList object
	images := make(map[string]map[string]string, len(object.Data))
	for image, encoded := range object.Data {
		regions := map[string]string{}
		if err := yaml.Unmarshal([]byte(encoded), &regions); err != nil {
			return fmt.Errorf("failed to decode regions of image %s: %w", image, err)
		}
		images[image] = regions
	}
	i.Images = images
	return nil
}

func getEmptyImageListConfigMap(name string, namespace string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				"managed-by": "aliyun-image-operator",
			},
		},
		Data: map[string]string{},
	}
}
