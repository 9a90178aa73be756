package imagechat

// SafetyCategory represents a content safety category.
type SafetyCategory string

const (
	SafetyCategoryHarassment       SafetyCategory = "HARM_CATEGORY_HARASSMENT"
	SafetyCategoryHateSpeech       SafetyCategory = "HARM_CATEGORY_HATE_SPEECH"
	SafetyCategorySexuallyExplicit SafetyCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	SafetyCategoryDangerousContent SafetyCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

// SafetyThreshold represents the blocking threshold for safety filters.
type SafetyThreshold string

const (
	SafetyThresholdBlockNone      SafetyThreshold = "BLOCK_NONE"
	SafetyThresholdBlockLowAndUp  SafetyThreshold = "BLOCK_LOW_AND_ABOVE"
	SafetyThresholdBlockMedAndUp  SafetyThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	SafetyThresholdBlockHighAndUp SafetyThreshold = "BLOCK_ONLY_HIGH"
)

// SafetySetting configures content filtering for a specific category.
type SafetySetting struct {
	Category  SafetyCategory
	Threshold SafetyThreshold
}

// Role tags the author of a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// AssetReference is the remote handle returned after uploading a file.
type AssetReference struct {
	// URI the model resolves the asset by
	URI string

	// MIMEType recorded at upload time
	MIMEType string

	// Name is the provider's resource name, if any
	Name string
}

// InputImage is a local image file together with its validated MIME type.
type InputImage struct {
	Path     string
	MIMEType string
}

// ImagesFromPaths builds inputs for paths, detecting each MIME type from the file.
func ImagesFromPaths(paths []string) []InputImage {
	images := make([]InputImage, 0, len(paths))
	for _, path := range paths {
		images = append(images, InputImage{Path: path, MIMEType: DetectMIMEType(path)})
	}
	return images
}

// Part is one element of a Turn: inline text or a reference to an uploaded asset.
type Part struct {
	Text  string
	Asset *AssetReference
}

// TextPart returns a Part carrying text.
func TextPart(text string) Part {
	return Part{Text: text}
}

// AssetPart returns a Part referencing an uploaded asset.
func AssetPart(ref AssetReference) Part {
	return Part{Asset: &ref}
}

// IsAsset reports whether the part references an uploaded asset.
func (p Part) IsAsset() bool {
	return p.Asset != nil
}

// Turn is one message in a conversation.
type Turn struct {
	Role  Role
	Parts []Part
}

// GenerationOutcome describes a successful Generate call.
type GenerationOutcome struct {
	// Path is where the image was written
	Path string

	// MIMEType of the image as reported by the model
	MIMEType string

	// Size is the number of bytes written
	Size int

	// Text collects any text chunks streamed before the image
	Text string

	// ModelTurnRecorded is false when the generated image could not be
	// uploaded back, so history did not gain the model turn.
	ModelTurnRecorded bool
}
