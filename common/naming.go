package common

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// BandFileExtension is the extension of the band files delivered by the catalog
	BandFileExtension = ".TIF"
	// NBRBand is the pseudo-band label of the burn-ratio rasters
	NBRBand = "NBR"
)

var landsatProductID = regexp.MustCompile(`^L[COTEM]0[4-9]_L[12][A-Z0-9]{2}_\d{6}_\d{8}_\d{8}_\d{2}_(T1|T2|RT)`)

// IsLandsatProductID returns true if the name starts with a Landsat collection product id
// (LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CC_TX)
func IsLandsatProductID(name string) bool {
	return landsatProductID.MatchString(name)
}

// PathRow returns the WRS path/row (PPPRRR) encoded in an entity id (e.g. LC80450322020228LGN00 => 045032)
// Entity ids shorter than 9 characters are returned as is.
func PathRow(entityID string) string {
	if len(entityID) < 9 {
		return entityID
	}
	return entityID[3:9]
}

// ProductID returns the Landsat product id of a band file (LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF => LC08_L2SP_045032_20200815_20200920_02_T1)
func ProductID(bandFile string) (string, error) {
	id := landsatProductID.FindString(bandFile)
	if id == "" {
		return "", fmt.Errorf("ProductID: invalid Landsat band file name: %s", bandFile)
	}
	return id, nil
}

// Info returns the fields of a Landsat product id (or a band file name starting with a product id)
// LC08_L2SP_045032_20200815_20200920_02_T1
func Info(productID string) (map[string]string, error) {
	if !IsLandsatProductID(productID) {
		return nil, fmt.Errorf("Info: invalid Landsat product id: %s", productID)
	}
	sensor := "oli-tirs"
	switch productID[1:2] {
	case "O":
		sensor = "oli"
	case "T":
		sensor = "tirs"
	case "E":
		sensor = "etm"
	}
	level := "level-1"
	if productID[6:7] == "2" {
		level = "level-2"
	}

	return map[string]string{
		"SCENE":      productID[0:40],
		"MISSION_ID": productID[0:4],
		"LEVEL":      level,
		"CORRECTION": productID[5:9],
		"PATH":       productID[10:13],
		"ROW":        productID[13:16],
		"DATE":       productID[17:25],
		"YEAR":       productID[17:21],
		"MONTH":      productID[21:23],
		"DAY":        productID[23:25],
		"COLLECTION": sensor,
		"NUMBER":     productID[35:37],
		"CATEGORY":   productID[38:40],
	}, nil
}

// BandFileStem returns the filename without the "<band>.TIF" suffix, and false if the filename does not have this suffix
func BandFileStem(filename, band string) (string, bool) {
	suffix := band + BandFileExtension
	if !strings.HasSuffix(filename, suffix) {
		return "", false
	}
	return strings.TrimSuffix(filename, suffix), true
}

// BandFileName returns the name of the file of the band, given the stem
func BandFileName(stem, band string) string {
	return stem + band + BandFileExtension
}

/**
 * FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
 * keys must be one of SCENE, MISSION_ID, LEVEL, CORRECTION, PATH, ROW, DATE(YEAR/MONTH/DAY), COLLECTION, NUMBER, CATEGORY, BAND, FILE
 */
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}
