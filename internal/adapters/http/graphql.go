package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	listingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Listing",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"location":      &graphql.Field{Type: geoPointType},
			"price":         &graphql.Field{Type: graphql.Float},
			"bedrooms":      &graphql.Field{Type: graphql.Int},
			"bathrooms":     &graphql.Field{Type: graphql.Int},
			"property_type": &graphql.Field{Type: graphql.String},
			"offer":         &graphql.Field{Type: graphql.String},
			"title":         &graphql.Field{Type: graphql.String},
			"address":       &graphql.Field{Type: graphql.String},
			"area":          &graphql.Field{Type: graphql.String},
			"description":   &graphql.Field{Type: graphql.String},
			"thumbnail_ref": &graphql.Field{Type: graphql.String},
			"updated_at":    &graphql.Field{Type: graphql.DateTime},
		},
	})

	markerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Marker",
		Fields: graphql.Fields{
			"position":    &graphql.Field{Type: geoPointType},
			"is_cluster":  &graphql.Field{Type: graphql.Boolean},
			"count":       &graphql.Field{Type: graphql.Int},
			"listing_ids": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"radius":      &graphql.Field{Type: graphql.Float},
		},
	})

	renderSetType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RenderSet",
		Fields: graphql.Fields{
			"generation":  &graphql.Field{Type: graphql.Int},
			"total":       &graphql.Field{Type: graphql.Int},
			"stale":       &graphql.Field{Type: graphql.Boolean},
			"markers":     &graphql.Field{Type: graphql.NewList(markerType)},
			"computed_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	typeCountType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TypeCount",
		Fields: graphql.Fields{
			"type":  &graphql.Field{Type: graphql.String},
			"count": &graphql.Field{Type: graphql.Int},
		},
	})

	summaryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ClusterSummary",
		Fields: graphql.Fields{
			"centroid":  &graphql.Field{Type: geoPointType},
			"count":     &graphql.Field{Type: graphql.Int},
			"price_min": &graphql.Field{Type: graphql.Float},
			"price_max": &graphql.Field{Type: graphql.Float},
			"price_avg": &graphql.Field{Type: graphql.Float},
			"by_type": &graphql.Field{
				Type: graphql.NewList(typeCountType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s := p.Source.(domain.ClusterSummary)
					var out []map[string]interface{}
					for _, t := range domain.PropertyTypes {
						if n := s.ByType[t]; n > 0 {
							out = append(out, map[string]interface{}{"type": string(t), "count": n})
						}
					}
					return out, nil
				},
			},
			"beds_range": &graphql.Field{
				Type: graphql.NewList(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s := p.Source.(domain.ClusterSummary)
					return []int{s.BedsRange[0], s.BedsRange[1]}, nil
				},
			},
		},
	})

	viewportInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "ViewportInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"north": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"south": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"east":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"west":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"zoom":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	filterInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "ListingFilter",
		Fields: graphql.InputObjectConfigFieldMap{
			"priceMin":      &graphql.InputObjectFieldConfig{Type: graphql.Float},
			"priceMax":      &graphql.InputObjectFieldConfig{Type: graphql.Float},
			"bedroomsMin":   &graphql.InputObjectFieldConfig{Type: graphql.Int},
			"propertyTypes": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.String)},
			"lat":           &graphql.InputObjectFieldConfig{Type: graphql.Float},
			"lon":           &graphql.InputObjectFieldConfig{Type: graphql.Float},
			"radius":        &graphql.InputObjectFieldConfig{Type: graphql.Float},
			"areas":         &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.String)},
			"offer":         &graphql.InputObjectFieldConfig{Type: graphql.String},
			"text":          &graphql.InputObjectFieldConfig{Type: graphql.String},
		},
	})

	mapArgs := graphql.FieldConfigArgument{
		"viewport": &graphql.ArgumentConfig{Type: viewportInput},
		"filter":   &graphql.ArgumentConfig{Type: filterInput},
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"listing": &graphql.Field{
				Type:        listingType,
				Description: "Get a listing by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Listings.GetByID(p.Context, p.Args["id"].(string))
				},
			},
			"listingsNearby": &graphql.Field{
				Type:        graphql.NewList(listingType),
				Description: "Find listings near a location, nearest first",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 1000.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Listings.FindNearby(p.Context,
						p.Args["lat"].(float64), p.Args["lon"].(float64),
						p.Args["radius"].(float64), p.Args["limit"].(int))
				},
			},
			"searchListings": &graphql.Field{
				Type:        graphql.NewList(listingType),
				Description: "Listings matching a filter, ordered by id",
				Args: graphql.FieldConfigArgument{
					"filter": &graphql.ArgumentConfig{Type: filterInput},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pred, err := predicateArg(p.Args["filter"])
					if err != nil {
						return nil, err
					}
					out, _, err := deps.Listings.Search(p.Context, pred, p.Args["limit"].(int), p.Args["offset"].(int))
					return out, err
				},
			},
			"mapClusters": &graphql.Field{
				Type:        renderSetType,
				Description: "Clustered markers for a viewport",
				Args:        mapArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, pred, err := mapArgsFrom(p.Args)
					if err != nil {
						return nil, err
					}
					return deps.Map.Render(p.Context, v, pred)
				},
			},
			"clusterSummaries": &graphql.Field{
				Type:        graphql.NewList(summaryType),
				Description: "Price and type aggregates per cluster for a viewport",
				Args:        mapArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, pred, err := mapArgsFrom(p.Args)
					if err != nil {
						return nil, err
					}
					return deps.Map.Summaries(p.Context, v, pred)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func mapArgsFrom(args map[string]interface{}) (domain.Viewport, domain.FilterPredicate, error) {
	v := domain.DefaultViewport()
	if in, ok := args["viewport"].(map[string]interface{}); ok {
		v = domain.Viewport{
			Bounds: domain.Bounds{
				North: in["north"].(float64),
				South: in["south"].(float64),
				East:  in["east"].(float64),
				West:  in["west"].(float64),
			},
			Zoom: in["zoom"].(int),
		}
	}
	p, err := predicateArg(args["filter"])
	return v, p, err
}

// predicateArg converts a ListingFilter input value.
func predicateArg(raw interface{}) (domain.FilterPredicate, error) {
	var p domain.FilterPredicate
	in, ok := raw.(map[string]interface{})
	if !ok {
		return p, nil
	}
	if f, ok := in["priceMin"].(float64); ok {
		p.PriceMin = &f
	}
	if f, ok := in["priceMax"].(float64); ok {
		p.PriceMax = &f
	}
	if n, ok := in["bedroomsMin"].(int); ok {
		p.BedroomsMin = &n
	}
	for _, s := range stringList(in["propertyTypes"]) {
		t, err := domain.ParsePropertyType(s)
		if err != nil {
			return p, &domain.InvalidPredicateError{Field: "property_types", Reason: err.Error()}
		}
		p.PropertyTypes = append(p.PropertyTypes, t)
	}
	lat, hasLat := in["lat"].(float64)
	lon, hasLon := in["lon"].(float64)
	if hasLat != hasLon {
		return p, &domain.InvalidPredicateError{Field: "center", Reason: "requires lat and lon together"}
	}
	if hasLat {
		p.Center = &domain.GeoPoint{Lat: lat, Lon: lon}
	}
	if f, ok := in["radius"].(float64); ok {
		p.RadiusMeters = &f
	}
	p.Areas = stringList(in["areas"])
	if s, ok := in["offer"].(string); ok && s != "" {
		o, err := domain.ParseOfferKind(s)
		if err != nil {
			return p, &domain.InvalidPredicateError{Field: "offer", Reason: err.Error()}
		}
		p.Offer = &o
	}
	if s, ok := in["text"].(string); ok {
		p.Text = s
	}
	return p, p.Validate()
}

func stringList(raw interface{}) []string {
	items, _ := raw.([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
