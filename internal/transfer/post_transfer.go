package transfer

type PostCreation struct {
	Caption          string
	Title            string
	PostType         string
	SelectedAccounts string
}

type ScheduleRequest struct {
	Datetime  string   `json:"datetime"`
	Timezone  string   `json:"timezone"`
	Platforms []string `json:"platforms"`
}

type RescheduleRequest struct {
	Datetime string `json:"datetime"`
	Timezone string `json:"timezone"`
}
