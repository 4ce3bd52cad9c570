package main

import "github.com/giantswarm/aliyun-image-operator/cmd/aliyun-img-utils/cmd"

func main() {
	cmd.Execute()
}
