package tickets

// Price is a per-ticket price with a discounted bundle of ten.
type Price struct {
	Single  int `json:"single"`
	TenPack int `json:"ten_pack"`
}

// Total charges full bundles of ten at TenPack and the remainder at Single.
func (p Price) Total(count int) int {
	if count <= 0 {
		return 0
	}
	return (count/10)*p.TenPack + (count%10)*p.Single
}

// Quote is the amount owed for a ticket count in every accepted currency.
type Quote struct {
	Count int `json:"count"`
	USD   int `json:"usd"`
	Bs    int `json:"bs"`
}

type PriceList struct {
	USD Price
	Bs  Price
}

func (l PriceList) Quote(count int) Quote {
	return Quote{Count: count, USD: l.USD.Total(count), Bs: l.Bs.Total(count)}
}
