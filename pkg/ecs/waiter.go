package ecs

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

var (
	// DefaultAvailableWait bounds waiting for an import to finish.
	DefaultAvailableWait = wait.Config{Interval: 30 * time.Second, Timeout: 1500 * time.Second}
	// DefaultDeletedWait bounds waiting for a deleted image to disappear.
	DefaultDeletedWait = wait.Config{Interval: 10 * time.Second, Timeout: 300 * time.Second}
)

// WaitForAvailable polls the image until it is available. Broken, deprecated
// and unknown states end the wait immediately.
func (c *Client) WaitForAvailable(ctx context.Context, id string) error {
	log := log.FromContext(ctx)

	return wait.Until(ctx, c.availableWait, "image "+id+" to become available", func(ctx context.Context) (bool, error) {
		image, err := c.Find(ctx, Query{ID: id})
		if err != nil {
			log.Error(err, "Failed to look up image, retrying", "imageID", id, "region", c.region)
			return false, nil
		}

		switch {
		case image.Status == StatusAvailable:
			return true, nil
		case image.Status.Processing():
			log.V(1).Info("Waiting for image", "imageID", id, "region", c.region, "status", image.Status)
			return false, nil
		case image.Status.Broken():
			return false, imgerr.New(imgerr.BrokenState, "image %s is in broken state %s", id, image.Status)
		case image.Status == StatusDeprecated:
			return false, imgerr.New(imgerr.UnexpectedDeprecated, "image %s is unexpectedly deprecated", id)
		default:
			return false, imgerr.New(imgerr.UnknownState, "image %s is in unknown state %s", id, image.Status)
		}
	})
}

// WaitForDeleted polls until the image id no longer resolves.
func (c *Client) WaitForDeleted(ctx context.Context, id string) error {
	log := log.FromContext(ctx)

	return wait.Until(ctx, c.deletedWait, "image "+id+" to be deleted", func(ctx context.Context) (bool, error) {
		_, err := c.Find(ctx, Query{ID: id})
		if imgerr.IsNotFound(err) {
			return true, nil
		} else if err != nil {
			log.Error(err, "Failed to look up image, retrying", "imageID", id, "region", c.region)
		}
		return false, nil
	})
}
