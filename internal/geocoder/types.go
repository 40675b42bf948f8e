package geocoder

import "github.com/paulmach/orb"

// Place is a resolved geocoder hit.
type Place struct {
	Name  string    `json:"name" doc:"Full name reported by the geocoder"`
	Point orb.Point `json:"-"`
}

// response mirrors the part of the geocoder payload we read.
type response struct {
	Response *struct {
		GeoObjectCollection *struct {
			FeatureMember []featureMember `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

type featureMember struct {
	GeoObject *struct {
		Name             string `json:"name"`
		MetaDataProperty struct {
			GeocoderMetaData struct {
				Text string `json:"text"`
			} `json:"GeocoderMetaData"`
		} `json:"metaDataProperty"`
		Point *struct {
			Pos string `json:"pos"`
		} `json:"Point"`
	} `json:"GeoObject"`
}
