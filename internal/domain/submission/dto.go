package submission

// CreateRequest is the body of POST /submissions.
type CreateRequest struct {
	AccountRef string       `json:"account_ref" validate:"required,max=128"`
	Type       string       `json:"type" validate:"required,submission_type"`
	Images     []ImageInput `json:"images" validate:"required,min=1,max=9,dive"`
	Meta       MetaInput    `json:"meta"`
}

type ImageInput struct {
	URL  string `json:"url" validate:"required,url,max=1024"`
	Hash string `json:"hash" validate:"required,content_hash"`
}

type MetaInput struct {
	NoteURL     string `json:"note_url" validate:"omitempty,url,max=1024"`
	NoteTitle   string `json:"note_title" validate:"max=200"`
	CommentText string `json:"comment_text" validate:"max=2000"`
	LeadName    string `json:"lead_name" validate:"max=100"`
	LeadPhone   string `json:"lead_phone" validate:"max=32"`
	LeadWechat  string `json:"lead_wechat" validate:"max=64"`
}

// ReviewRequest is the body of the mentor and manager review endpoints.
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,decision"`
	Comment  string `json:"comment" validate:"required_if=Decision reject,max=1000"`
}

func (r *CreateRequest) toInput() SubmitInput {
	images := make([]Image, len(r.Images))
	for i, img := range r.Images {
		images[i] = Image{URL: img.URL, Hash: img.Hash}
	}
	return SubmitInput{
		AccountRef: r.AccountRef,
		Type:       Type(r.Type),
		Images:     images,
		Meta: Meta{
			NoteURL:     r.Meta.NoteURL,
			NoteTitle:   r.Meta.NoteTitle,
			CommentText: r.Meta.CommentText,
			LeadName:    r.Meta.LeadName,
			LeadPhone:   r.Meta.LeadPhone,
			LeadWechat:  r.Meta.LeadWechat,
		},
	}
}
