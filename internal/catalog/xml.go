package catalog

import (
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type xmlName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlLink struct {
	Type  string `xml:"type,attr"`
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type xmlResult struct {
	Level    string `xml:"level,attr"`
	Value    string `xml:"value,attr"`
	NumVotes string `xml:"numvotes,attr"`
}

type xmlResults struct {
	NumPlayers string      `xml:"numplayers,attr"`
	Result     []xmlResult `xml:"result"`
}

type xmlPoll struct {
	Name    string       `xml:"name,attr"`
	Results []xmlResults `xml:"results"`
}

type xmlRank struct {
	Type  string `xml:"type,attr"`
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlRatings struct {
	UsersRated    *valueAttr `xml:"usersrated"`
	Average       *valueAttr `xml:"average"`
	BayesAverage  *valueAttr `xml:"bayesaverage"`
	Ranks         []xmlRank  `xml:"ranks>rank"`
	StdDev        *valueAttr `xml:"stddev"`
	Median        *valueAttr `xml:"median"`
	Owned         *valueAttr `xml:"owned"`
	Trading       *valueAttr `xml:"trading"`
	Wanting       *valueAttr `xml:"wanting"`
	Wishing       *valueAttr `xml:"wishing"`
	NumComments   *valueAttr `xml:"numcomments"`
	NumWeights    *valueAttr `xml:"numweights"`
	AverageWeight *valueAttr `xml:"averageweight"`
}

// xmlItem is one <item> of a thing or hot response.
type xmlItem struct {
	ID            string      `xml:"id,attr"`
	Type          string      `xml:"type,attr"`
	Thumbnail     string      `xml:"thumbnail"`
	Image         string      `xml:"image"`
	Names         []xmlName   `xml:"name"`
	Description   string      `xml:"description"`
	YearPublished *valueAttr  `xml:"yearpublished"`
	MinPlayers    *valueAttr  `xml:"minplayers"`
	MaxPlayers    *valueAttr  `xml:"maxplayers"`
	Polls         []xmlPoll   `xml:"poll"`
	PlayingTime   *valueAttr  `xml:"playingtime"`
	MinPlaytime   *valueAttr  `xml:"minplaytime"`
	MaxPlaytime   *valueAttr  `xml:"maxplaytime"`
	MinAge        *valueAttr  `xml:"minage"`
	Links         []xmlLink   `xml:"link"`
	Ratings       *xmlRatings `xml:"statistics>ratings"`
}

type xmlItems struct {
	XMLName xml.Name  `xml:"items"`
	Items   []xmlItem `xml:"item"`
}

// decodeItems parses an <items> document. A document with a different
// root element is malformed.
func decodeItems(r io.Reader) ([]xmlItem, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var doc xmlItems
	if err := decoder.Decode(&doc); err != nil {
		return nil, eris.Wrap(ErrMalformed, err.Error())
	}
	return doc.Items, nil
}
