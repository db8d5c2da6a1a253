package nn

// UnknownLabel is returned when the model emits a class index that has no entry in the label table
const UnknownLabel = "???"

// LabelTable holds class names in index order.
// Entry 0 is a placeholder (usually "background" or "???"), because SSD models
// number their classes from the first real class, so class index i is found at i+1.
type LabelTable []string

// Label returns the name for a class index emitted by the model
func (l LabelTable) Label(classIndex int) string {
	i := classIndex + 1
	if i < 0 || i >= len(l) {
		return UnknownLabel
	}
	return l[i]
}

// Classes returns the real class names, without the leading placeholder
func (l LabelTable) Classes() []string {
	if len(l) == 0 {
		return nil
	}
	return l[1:]
}

// Color is the display color of a detection
type Color int

const (
	ColorRed Color = iota
	ColorSkyBlue
	ColorGreen
	ColorOrange
	ColorBlue
	ColorPurple
	ColorMagenta
	ColorYellow
	ColorCyan
	ColorBrown
)

// Every detection is drawn in this color, regardless of class
const DefaultColor = ColorGreen

var colorNames = [...]string{"red", "skyblue", "green", "orange", "blue", "purple", "magenta", "yellow", "cyan", "brown"}

var colorRGB = [...][3]uint8{
	{255, 0, 0},
	{90, 200, 250},
	{0, 255, 0},
	{255, 128, 0},
	{0, 0, 255},
	{128, 0, 128},
	{255, 0, 255},
	{255, 255, 0},
	{0, 255, 255},
	{153, 102, 51},
}

func (c Color) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return "green"
	}
	return colorNames[c]
}

// RGB returns the 8-bit red, green, blue components of the color
func (c Color) RGB() (r, g, b uint8) {
	if c < 0 || int(c) >= len(colorRGB) {
		c = DefaultColor
	}
	v := colorRGB[c]
	return v[0], v[1], v[2]
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	for i, n := range colorNames {
		if n == string(b) {
			*c = Color(i)
			return nil
		}
	}
	*c = DefaultColor
	return nil
}

// Detection is an object that the neural network has found in a frame
type Detection struct {
	Confidence float32 `json:"confidence"`
	ClassName  string  `json:"className"`
	Box        Rect    `json:"box"` // Normalized model input coordinates
	Color      Color   `json:"color"`
}

// Results of one inference run
type InferenceResult struct {
	InferenceTimeMillis float64     `json:"inferenceTimeMillis"`
	Detections          []Detection `json:"detections"` // Sorted by descending confidence
}
