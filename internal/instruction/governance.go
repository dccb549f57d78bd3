package instruction

// Activation schedules a feature at ActivationBlock.
type Activation struct {
	Header
	FeatureID        uint16 `json:"feature_id"`
	ActivationBlock  int64  `json:"activation_block"`
	MinClientVersion uint32 `json:"min_client_version"`
}

func (*Activation) Kind() Kind { return KindActivation }

// Deactivation removes a feature from the schedule.
type Deactivation struct {
	Header
	FeatureID uint16 `json:"feature_id"`
}

func (*Deactivation) Kind() Kind { return KindDeactivation }

// Alert broadcasts an operator message until ExpiryBlock.
type Alert struct {
	Header
	AlertType   uint16 `json:"alert_type"`
	ExpiryBlock int64  `json:"expiry_block"`
	Message     string `json:"message"`
}

func (*Alert) Kind() Kind { return KindAlert }
