// conf/consts.go hard coded constants
package conf

const (
	// DefaultModelIdentifier names the bundled mosquito classifier release.
	DefaultModelIdentifier = "culicidaelab-classifier_v1"

	// ModelInputSize is the square input resolution the classifier expects.
	ModelInputSize = 224

	// ThumbnailSize is the square resolution of generated preview thumbnails.
	ThumbnailSize = 100
)
