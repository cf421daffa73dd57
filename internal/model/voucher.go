package model

type VoucherDefinition struct {
	Name        string `json:"Name"`
	Description string `json:"Description"`
}

type Voucher struct {
	ID         string             `json:"Id"`
	Code       string             `json:"VoucherCode"`
	Status     string             `json:"Status"`
	Definition *VoucherDefinition `json:"VoucherDefinition"`
}
