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

package main

import (
	"flag"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	imagev1alpha1 "github.com/giantswarm/aliyun-image-operator/api/image/v1alpha1"
	imagecontroller "github.com/giantswarm/aliyun-image-operator/internal/controller/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/config"
	"github.com/giantswarm/aliyun-image-operator/pkg/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/provider"
	"github.com/giantswarm/aliyun-image-operator/pkg/session"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(imagev1alpha1.AddToScheme(scheme))
}

func main() {
	var (
		metricsAddr          string
		probeAddr            string
		enableLeaderElection bool
		configDir            string
		profile              string
		region               string
		bucketName           string
		listName             string
		listNamespace        string
	)

	pflag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to.")
	pflag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	pflag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. Enabling this will ensure there is only one active controller manager.")
	pflag.StringVar(&configDir, "config-dir", config.DefaultDir(), "Directory holding the Aliyun credential profiles.")
	pflag.StringVar(&profile, "profile", config.DefaultProfile, "Profile with the Aliyun credentials.")
	pflag.StringVar(&region, "region", "", "Home region images are imported into. Overrides the profile.")
	pflag.StringVar(&bucketName, "bucket-name", "", "Bucket holding the image blobs. Overrides the profile.")
	pflag.StringVar(&listName, "image-list-name", "compute-images", "Name of the configmap listing the image ids per region. Empty disables the list.")
	pflag.StringVar(&listNamespace, "image-list-namespace", "giantswarm", "Namespace of the image list configmap.")

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	c, found, err := config.Resolve(configDir, profile, config.Config{
		Region:     region,
		BucketName: bucketName,
	})
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}
	if !found {
		setupLog.Info("Config file not found, using default configuration values", "path", config.ProfilePath(configDir, profile))
	}
	if err := c.Validate(); err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}

	s, err := session.New(session.Config{
		Credentials: session.Credentials{
			AccessKey:    c.AccessKey,
			AccessSecret: c.AccessSecret,
		},
		Region:            c.Region,
		BucketName:        c.BucketName,
		Acceleration:      c.Acceleration(),
		ConnectTimeout:    c.Timeout(),
		ChunkSize:         c.ChunkSize,
		DeprecationPeriod: c.DeprecationPeriod,
	})
	if err != nil {
		setupLog.Error(err, "unable to create session")
		os.Exit(1)
	}
	imageClient, err := image.New(image.Config{Session: s})
	if err != nil {
		setupLog.Error(err, "unable to create image client")
		os.Exit(1)
	}
	aliyun, err := provider.NewAliyun(provider.AliyunConfig{
		Client:     imageClient,
		HomeRegion: c.Region,
	})
	if err != nil {
		setupLog.Error(err, "unable to create provider")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "aliyun-image-operator.giantswarm.io",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if err = (&imagecontroller.ComputeImageReconciler{
		Client:        mgr.GetClient(),
		Provider:      aliyun,
		ListName:      listName,
		ListNamespace: listNamespace,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ComputeImage")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "region", c.Region, "bucket", c.BucketName)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
