package nintendo

// Factory builds service clients bound to cached or freshly issued credentials.
type Factory struct {
	opts     ClientOptions
	attester Attester
}

// NewFactory creates a Factory. attester is handed to znc clients for web service tokens.
func NewFactory(opts ClientOptions, attester Attester) *Factory {
	return &Factory{opts: opts, attester: attester}
}

func (f *Factory) Znc(accessToken string) *ZncClient {
	return NewZncClient(f.opts, accessToken, f.attester)
}

func (f *Factory) Moon(accessToken, userID string) *MoonClient {
	return NewMoonClient(f.opts, accessToken, userID)
}

func (f *Factory) SplatNet2(webServiceToken string) *SplatNet2Client {
	return NewSplatNet2Client(f.opts, webServiceToken)
}
