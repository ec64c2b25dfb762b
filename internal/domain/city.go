package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// City is the closed set of destinations the storefront ships to.
type City string

const (
	CityCairo        City = "cairo"
	CityGiza         City = "giza"
	CityQalyubia     City = "qalyubia"
	CitySuez         City = "suez"
	CityIsmailia     City = "ismailia"
	CityPortSaid     City = "port-said"
	CityAlexandria   City = "alexandria"
	CityGharbia      City = "gharbia"
	CityDakahlia     City = "dakahlia"
	CityMonufia      City = "monufia"
	CityBeheira      City = "beheira"
	CityKafrElSheikh City = "kafr-el-sheikh"
	CityDamietta     City = "damietta"
	CitySharqia      City = "sharqia"
	CityAswan        City = "aswan"
	CityLuxor        City = "luxor"
	CityQena         City = "qena"
	CitySohag        City = "sohag"
	CityAsyut        City = "asyut"
	CityMinya        City = "minya"
	CityBeniSuef     City = "beni-suef"
	CityFaiyum       City = "faiyum"
	CityRedSea       City = "red-sea"
	CityMatrouh      City = "matrouh"
	CityNorthSinai   City = "north-sinai"
	CitySouthSinai   City = "south-sinai"
	CityNewValley    City = "new-valley"
)

// Cities lists every supported destination.
var Cities = []City{
	CityCairo, CityGiza,
	CityQalyubia, CitySuez, CityIsmailia, CityPortSaid,
	CityAlexandria, CityGharbia, CityDakahlia, CityMonufia, CityBeheira, CityKafrElSheikh, CityDamietta, CitySharqia,
	CityAswan, CityLuxor, CityQena, CitySohag, CityAsyut, CityMinya, CityBeniSuef, CityFaiyum,
	CityRedSea, CityMatrouh, CityNorthSinai, CitySouthSinai, CityNewValley,
}

var (
	cityFolder = cases.Fold()
	cityIndex  = func() map[City]struct{} {
		index := make(map[City]struct{}, len(Cities))
		for _, city := range Cities {
			index[city] = struct{}{}
		}
		return index
	}()
)

// Valid reports whether the city belongs to the supported set.
func (c City) Valid() bool {
	_, ok := cityIndex[c]
	return ok
}

// ParseCity normalises free text ("Port Said", "KAFR_EL_SHEIKH") into a City.
func ParseCity(raw string) (City, bool) {
	value := norm.NFC.String(strings.TrimSpace(raw))
	value = cityFolder.String(value)
	value = strings.Join(strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	}), "-")
	city := City(value)
	if !city.Valid() {
		return "", false
	}
	return city, true
}
