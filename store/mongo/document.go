package mongo

import "github.com/rbaliyan/calllog/store"

type callDoc struct {
	ID                string `bson:"_id"`
	Number            string `bson:"number"`
	Date              int64  `bson:"date"`
	Duration          int64  `bson:"duration"`
	Type              int64  `bson:"type"`
	CachedName        string `bson:"cached_name"`
	CachedNumberType  int64  `bson:"cached_number_type"`
	CachedNumberLabel string `bson:"cached_number_label"`
	PhoneAccountID    string `bson:"phone_account_id"`
	New               int64  `bson:"new"`
	IsRead            int64  `bson:"is_read"`
	VoicemailURI      string `bson:"voicemail_uri"`
	Transcription     string `bson:"transcription"`
}

func newCallDoc(c *store.Call) *callDoc {
	d := &callDoc{
		ID:                c.ID,
		Number:            c.Number,
		Date:              c.Date,
		Duration:          c.Duration,
		Type:              int64(c.Type),
		CachedName:        c.CachedName,
		CachedNumberType:  c.CachedNumberType,
		CachedNumberLabel: c.CachedNumberLabel,
		PhoneAccountID:    c.PhoneAccountID,
		VoicemailURI:      c.VoicemailURI,
		Transcription:     c.Transcription,
	}
	if c.New {
		d.New = 1
	}
	if c.IsRead {
		d.IsRead = 1
	}
	return d
}

func (d *callDoc) toCall() store.Call {
	return store.Call{
		ID:                d.ID,
		Number:            d.Number,
		Date:              d.Date,
		Duration:          d.Duration,
		Type:              store.CallType(d.Type),
		CachedName:        d.CachedName,
		CachedNumberType:  d.CachedNumberType,
		CachedNumberLabel: d.CachedNumberLabel,
		PhoneAccountID:    d.PhoneAccountID,
		New:               d.New != 0,
		IsRead:            d.IsRead != 0,
		VoicemailURI:      d.VoicemailURI,
		Transcription:     d.Transcription,
	}
}

type statusDoc struct {
	SourcePackage            string `bson:"_id"`
	ConfigurationState       int64  `bson:"configuration_state"`
	DataChannelState         int64  `bson:"data_channel_state"`
	NotificationChannelState int64  `bson:"notification_channel_state"`
	SettingsURI              string `bson:"settings_uri"`
	VoicemailAccessURI       string `bson:"voicemail_access_uri"`
}

func newStatusDoc(s *store.VoicemailStatus) *statusDoc {
	return &statusDoc{
		SourcePackage:            s.SourcePackage,
		ConfigurationState:       s.ConfigurationState,
		DataChannelState:         s.DataChannelState,
		NotificationChannelState: s.NotificationChannelState,
		SettingsURI:              s.SettingsURI,
		VoicemailAccessURI:       s.VoicemailAccessURI,
	}
}

func (d *statusDoc) toStatus() store.VoicemailStatus {
	return store.VoicemailStatus{
		SourcePackage:            d.SourcePackage,
		ConfigurationState:       d.ConfigurationState,
		DataChannelState:         d.DataChannelState,
		NotificationChannelState: d.NotificationChannelState,
		SettingsURI:              d.SettingsURI,
		VoicemailAccessURI:       d.VoicemailAccessURI,
	}
}
