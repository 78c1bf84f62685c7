package metadata

// Registered discriminators.
const (
	TypeSimple        = "simple"
	TypeCatalog       = "catalog"
	TypeMapSet        = "mapset"
	TypeMap           = "map"
	TypeBeam          = "beam"
	TypeNumeric       = "numeric"
	TypePowerSpectrum = "power_spectrum"
)

// Simple carries no attributes beyond its discriminator.
type Simple struct{}

func (*Simple) MetadataType() string { return TypeSimple }

// Catalog describes a catalog, potentially of resolved sources.
type Catalog struct {
	FileType          string            `json:"file_type" validate:"required,oneof=csv fits hdf5 txt"`
	ColumnDescription map[string]string `json:"column_description" validate:"required"`
	Telescope         *string           `json:"telescope,omitempty"`
	Instrument        *string           `json:"instrument,omitempty"`
	Release           *string           `json:"release,omitempty"`
}

func (*Catalog) MetadataType() string { return TypeCatalog }

// MapSetMap is one map inside a MapSet.
type MapSetMap struct {
	MapType  string  `json:"map_type" validate:"required,oneof=coadd split source_only source_only_split source_free source_free_split ivar_coadd ivar_split xlink_coadd xlink_split"`
	Filename string  `json:"filename" validate:"required"`
	Units    *string `json:"units,omitempty"`
}

// MapSet packages maps of the same observation, e.g. a coadd and its
// inverse-variance map.
type MapSet struct {
	Maps                   map[string]MapSetMap `json:"maps" validate:"required,min=1,dive,keys,oneof=coadd split source_only source_only_split source_free source_free_split ivar_coadd ivar_split xlink_coadd xlink_split,endkeys,required"`
	Pixelisation           string               `json:"pixelisation" validate:"required,oneof=healpix cartesian"`
	Telescope              *string              `json:"telescope,omitempty"`
	Instrument             *string              `json:"instrument,omitempty"`
	Release                *string              `json:"release,omitempty"`
	Season                 *string              `json:"season,omitempty"`
	Patch                  *string              `json:"patch,omitempty"`
	Frequency              *string              `json:"frequency,omitempty"`
	PolarizationConvention *string              `json:"polarization_convention,omitempty"`
	Tags                   []string             `json:"tags,omitempty"`
}

func (*MapSet) MetadataType() string { return TypeMapSet }

// Map mirrors the FITS header keywords of a single sky map.
type Map struct {
	NAXIS    []int     `json:"NAXIS,omitempty" validate:"omitempty,dive,gt=0"`
	CTYPE    []string  `json:"CTYPE,omitempty"`
	CUNIT    []string  `json:"CUNIT,omitempty"`
	CRVAL    []float64 `json:"CRVAL,omitempty"`
	CDELT    []float64 `json:"CDELT,omitempty"`
	CRPIX    []float64 `json:"CRPIX,omitempty"`
	EQUINOX  *string   `json:"EQUINOX,omitempty"`
	DATEREF  *string   `json:"DATEREF,omitempty"`
	RADESYS  *string   `json:"RADESYS,omitempty"`
	TELESCOP *string   `json:"TELESCOP,omitempty"`
	INSTRUME *string   `json:"INSTRUME,omitempty"`
	RELEASE  *string   `json:"RELEASE,omitempty"`
	SEASON   *string   `json:"SEASON,omitempty"`
	PATCH    *string   `json:"PATCH,omitempty"`
	FREQ     *string   `json:"FREQ,omitempty"`
	ACTTAGS  *string   `json:"ACTTAGS,omitempty"`
	POLCCONV *string   `json:"POLCCONV,omitempty"`
	BUNIT    *string   `json:"BUNIT,omitempty"`
	EXTNAME  *string   `json:"EXTNAME,omitempty"`
	FILENAME *string   `json:"FILENAME,omitempty"`
	CHECKSUM *string   `json:"CHECKSUM,omitempty"`
	DATASUM  *string   `json:"DATASUM,omitempty"`
}

func (*Map) MetadataType() string { return TypeMap }

// Beam describes a beam product.
type Beam struct{}

func (*Beam) MetadataType() string { return TypeBeam }

// Numeric holds a single scalar value.
type Numeric struct {
	Value *float64 `json:"value" validate:"required,gte=-1e100,lte=1e100"`
	Unit  *string  `json:"unit,omitempty"`
}

func (*Numeric) MetadataType() string { return TypeNumeric }

// PowerSpectrum describes a binned power spectrum.
type PowerSpectrum struct {
	NBins *int `json:"n_bins" validate:"required,gt=0"`
}

func (*PowerSpectrum) MetadataType() string { return TypePowerSpectrum }
